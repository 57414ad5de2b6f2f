package iso7816

import (
	"testing"
)

func TestNewClass(t *testing.T) {
	tests := []struct {
		name    string
		cla     byte
		wantErr bool
		check   func(Class) bool
	}{
		{
			name:    "Reserved FF",
			cla:     0xFF,
			wantErr: true,
		},
		{
			name: "First Interindustry - Ch 0, No SM",
			cla:  0x00,
			check: func(c Class) bool {
				return !c.IsProprietary && c.Channel == 0 && c.SecureMessaging == 0
			},
		},
		{
			name: "First Interindustry - Ch 3, Chaining, SM 3",
			cla:  0b0001_1111,
			check: func(c Class) bool {
				return c.IsChained && c.Channel == 3 && c.SecureMessaging == 3
			},
		},
		{
			name: "Further Interindustry - Ch 19, SM, Chaining",
			cla:  0b0111_1111,
			check: func(c Class) bool {
				return c.IsChained && c.Channel == 19 && c.SecureMessaging == 2
			},
		},
		{
			name: "EMV Proprietary 80",
			cla:  0x80,
			check: func(c Class) bool {
				return c.IsProprietary && c == ClassProprietary
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClass(tt.cla)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClass() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !tt.check(c) {
				t.Errorf("NewClass(%08b) failed validation: %+v", tt.cla, c)
			}
		})
	}
}

func TestClass_Encode_RoundTrip(t *testing.T) {
	for _, cla := range []byte{0x00, 0x1F, 0x40, 0x7F, 0x80, 0x84} {
		c, err := NewClass(cla)
		if err != nil {
			t.Fatalf("NewClass(%02X): %v", cla, err)
		}
		got, err := c.Encode()
		if err != nil {
			t.Fatalf("Encode(%+v): %v", c, err)
		}
		if got != cla {
			t.Errorf("Round-trip mismatch: got %08b, want %08b", got, cla)
		}
	}

	if _, err := (Class{Channel: 20}).Encode(); err == nil {
		t.Error("channel 20 should not encode")
	}
}
