package iso7816

import (
	"fmt"

	"github.com/gregLibert/smart-pos/pkg/bits"
)

// InsCode is an instruction byte.
type InsCode byte

// Instruction codes used by the payment flow. GET PROCESSING OPTIONS is
// defined by EMV Book 3 and sent with the proprietary class 0x80.
const (
	INS_VERIFY                 InsCode = 0x20
	INS_INTERNAL_AUTHENTICATE  InsCode = 0x88
	INS_SELECT                 InsCode = 0xA4
	INS_GET_PROCESSING_OPTIONS InsCode = 0xA8
	INS_READ_BINARY            InsCode = 0xB0
	INS_READ_RECORD            InsCode = 0xB2
	INS_GET_RESPONSE           InsCode = 0xC0
	INS_GET_DATA               InsCode = 0xCA
	INS_GENERATE_AC            InsCode = 0xAE
)

var insNames = map[InsCode]string{
	INS_VERIFY:                 "VERIFY",
	INS_INTERNAL_AUTHENTICATE:  "INTERNAL AUTHENTICATE",
	INS_SELECT:                 "SELECT",
	INS_GET_PROCESSING_OPTIONS: "GET PROCESSING OPTIONS",
	INS_READ_BINARY:            "READ BINARY",
	INS_READ_RECORD:            "READ RECORD",
	INS_GET_RESPONSE:           "GET RESPONSE",
	INS_GET_DATA:               "GET DATA",
	INS_GENERATE_AC:            "GENERATE AC",
}

func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS(%02X)", byte(i))
}

// Instruction is a validated INS byte.
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction rejects 6X and 9X, which ISO 7816-3 reserves for
// procedure bytes and status words.
func NewInstruction(ins InsCode) (Instruction, error) {
	if hi, _ := bits.Nibbles(byte(ins)); hi == 0x6 || hi == 0x9 {
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(ins))
	}
	return Instruction{Raw: ins, IsBERTLV: bits.IsSet(byte(ins), 1)}, nil
}

func mustInstruction(ins InsCode) Instruction {
	i, err := NewInstruction(ins)
	if err != nil {
		panic(err)
	}
	return i
}

// Verbose describes the instruction for traces.
func (i Instruction) Verbose() string {
	format := "Standard"
	if i.IsBERTLV {
		format = "BER-TLV"
	}
	return fmt.Sprintf("INS: 0x%02X | Command: %s | Format: %s", byte(i.Raw), i.Raw, format)
}
