package iso7816

// EmptyPDOL is the command template 83 with no PDOL data, sent when the
// card requested none or the terminal does not fill it.
var EmptyPDOL = []byte{0x83, 0x00}

// GetProcessingOptions builds the EMV GET PROCESSING OPTIONS command
// 80 A8 00 00 Lc <pdolData> 00. pdolData must already be wrapped in
// template 83.
func GetProcessingOptions(pdolData []byte) *CommandAPDU {
	if len(pdolData) == 0 {
		pdolData = EmptyPDOL
	}
	return NewCommandAPDU(ClassProprietary, mustInstruction(INS_GET_PROCESSING_OPTIONS), 0x00, 0x00, pdolData, MaxShortLe)
}
