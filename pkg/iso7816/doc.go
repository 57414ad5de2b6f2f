// Package iso7816 builds ISO/IEC 7816-4 command APDUs, decodes response
// APDUs and drives a card through a Transmitter.
//
// Every response ends with a two-byte status word: 9000 is success, 61XX
// announces XX more bytes for GET RESPONSE and 6CXX gives the Le the card
// expected. Client.Send handles both transparently and records every
// physical exchange in a Trace.
//
// Commands used by the EMV contactless flow:
//
//	SELECT by name           00 A4 04 00 Lc <name> 00
//	GET PROCESSING OPTIONS   80 A8 00 00 Lc <PDOL data> 00
//	READ RECORD              00 B2 <rec> <SFI<<3|4> 00
package iso7816
