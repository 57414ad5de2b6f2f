package bits

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMaskAndSet(t *testing.T) {
	got := []byte{Mask(0), Mask(1), Mask(6), Mask(8), Mask(9)}
	if diff := cmp.Diff([]byte{0x00, 0x01, 0x20, 0x80, 0x00}, got); diff != "" {
		t.Errorf("Mask mismatch (-want +got):\n%s", diff)
	}

	// class byte of a secure-messaging command: bit 7 then bit 6
	if b := Set(Set(0x00, 7), 6); b != 0x60 {
		t.Errorf("Set = %02X, want 60", b)
	}
	if b := Set(0x80, 9); b != 0x80 {
		t.Errorf("Set out of range changed the byte: %02X", b)
	}
}

func TestIsSet(t *testing.T) {
	tests := []struct {
		name string
		b    byte
		n    uint
		want bool
	}{
		{"Constructed tag 6F", 0x6F, 6, true},
		{"Primitive tag 5A", 0x5A, 6, false},
		{"Long length 81", 0x81, 8, true},
		{"Short length 7F", 0x7F, 8, false},
		{"NDEF short record", 0xD1, 5, true},
		{"NDEF no ID", 0xD1, 4, false},
		{"Bit zero", 0xFF, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSet(tt.b, tt.n); got != tt.want {
				t.Errorf("IsSet(%02X, %d) = %v, want %v", tt.b, tt.n, got, tt.want)
			}
		})
	}
}

func TestField(t *testing.T) {
	tests := []struct {
		name      string
		b         byte
		high, low uint
		want      byte
	}{
		{"SFI of AFL entry 08", 0x08, 8, 4, 1},
		{"SFI of AFL entry 18", 0x18, 8, 4, 3},
		{"Tag number 9F", 0x9F, 5, 1, 0x1F},
		{"Length count 82", 0x82, 7, 1, 2},
		{"Whole byte", 0xA5, 8, 1, 0xA5},
		{"Single bit", 0x04, 3, 3, 1},
		{"Reversed bounds", 0xFF, 3, 4, 0},
		{"Low bit zero", 0xFF, 4, 0, 0},
		{"High bit nine", 0xFF, 9, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Field(tt.b, tt.high, tt.low); got != tt.want {
				t.Errorf("Field(%02X, %d, %d) = %02X, want %02X", tt.b, tt.high, tt.low, got, tt.want)
			}
		})
	}
}

func TestNibbles(t *testing.T) {
	for b, want := range map[byte][2]byte{0x47: {4, 7}, 0x1F: {1, 0xF}, 0x00: {0, 0}} {
		hi, lo := Nibbles(b)
		if diff := cmp.Diff(want, [2]byte{hi, lo}); diff != "" {
			t.Errorf("Nibbles(%02X) mismatch (-want +got):\n%s", b, diff)
		}
	}
}
