package iso7816

// SELECT (INS A4). P1 picks how the target is named, P2 combines the
// expected answer (bits 4-3) with the occurrence (bits 2-1).

// Selection methods (P1).
const (
	SelectByFileID   byte = 0x00
	SelectByDFName   byte = 0x04
	SelectPathFromMF byte = 0x08
)

// Selection controls (P2 bits 4-3) and occurrences (P2 bits 2-1).
const (
	ReturnFCI    byte = 0b0000_0000
	ReturnFCP    byte = 0b0000_0100
	ReturnNoData byte = 0b0000_1100

	FirstOrOnlyOccurrence byte = 0b00
	NextOccurrence        byte = 0b10
)

// PPSEName is the DF name of the contactless Proximity Payment System
// Environment.
var PPSEName = []byte("2PAY.SYS.DDF01")

// NewSelectCommand builds a SELECT. Le is requested (00, up to 256 bytes)
// unless ctrl asks for no data.
func NewSelectCommand(cla Class, method, occurrence, ctrl byte, data []byte) *CommandAPDU {
	ne := MaxShortLe
	if ctrl == ReturnNoData {
		ne = 0
	}
	return NewCommandAPDU(cla, mustInstruction(INS_SELECT), method, ctrl|occurrence, data, ne)
}

// SelectByName selects a DF or application by name (AID), as
// 00 A4 04 00 Lc <name> 00.
func SelectByName(cla Class, name []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, FirstOrOnlyOccurrence, ReturnFCI, name)
}

// SelectPPSE selects the contactless payment directory.
func SelectPPSE() *CommandAPDU {
	return SelectByName(ClassInterindustry, PPSEName)
}
