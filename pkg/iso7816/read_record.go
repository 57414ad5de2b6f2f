package iso7816

// READ RECORD (INS B2). P1 is the record number; P2 carries the SFI on
// bits 8-4 and the reference mode on bits 3-1.

// Reference modes (P2 bits 3-1).
const (
	RecordByNumber      byte = 0b100
	RecordsFromNumber   byte = 0b101
	RecordsFromLastToP1 byte = 0b110
)

// NewReadRecordCommand builds a READ RECORD with Le 00.
func NewReadRecordCommand(cla Class, sfi, p1, mode byte) *CommandAPDU {
	return NewCommandAPDU(cla, mustInstruction(INS_READ_RECORD), p1, sfi<<3|mode, nil, MaxShortLe)
}

// ReadRecord reads record number rec of file sfi: 00 B2 rec (sfi<<3|4) 00.
func ReadRecord(cla Class, sfi, rec byte) *CommandAPDU {
	return NewReadRecordCommand(cla, sfi, rec, RecordByNumber)
}
