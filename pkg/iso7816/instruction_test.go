package iso7816

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewInstruction(t *testing.T) {
	tests := []struct {
		ins     InsCode
		want    Instruction
		wantErr bool
	}{
		{ins: INS_SELECT, want: Instruction{Raw: INS_SELECT}},
		{ins: INS_GET_PROCESSING_OPTIONS, want: Instruction{Raw: INS_GET_PROCESSING_OPTIONS}},
		{ins: INS_READ_RECORD, want: Instruction{Raw: INS_READ_RECORD}},
		{ins: 0xB3, want: Instruction{Raw: 0xB3, IsBERTLV: true}},
		{ins: 0x61, wantErr: true},
		{ins: 0x6C, wantErr: true},
		{ins: 0x90, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ins.String(), func(t *testing.T) {
			got, err := NewInstruction(tt.ins)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewInstruction(%02X) error = %v, wantErr %v", byte(tt.ins), err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInstruction_Verbose(t *testing.T) {
	tests := map[InsCode]string{
		INS_GET_PROCESSING_OPTIONS: "INS: 0xA8 | Command: GET PROCESSING OPTIONS | Format: Standard",
		INS_GET_RESPONSE:           "INS: 0xC0 | Command: GET RESPONSE | Format: Standard",
		0xB3:                       "INS: 0xB3 | Command: INS(B3) | Format: BER-TLV",
	}
	for ins, want := range tests {
		if got := mustInstruction(ins).Verbose(); got != want {
			t.Errorf("Verbose() = %q, want %q", got, want)
		}
	}
}

func TestMustInstructionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for reserved INS 0x6A")
		}
	}()
	mustInstruction(0x6A)
}
