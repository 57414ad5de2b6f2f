package tlv

import (
	"errors"
	"math"
	"strconv"
	"testing"
)

func TestDecodeBCD(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"Even PAN", Hex("4761739001010010"), "4761739001010010"},
		{"F padded PAN", Hex("541333900000151F"), "541333900000151"},
		{"Amount", Hex("000000015000"), "000000015000"},
		{"Empty", nil, ""},
		{"All padding", Hex("FFFF"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeBCD(tt.data); got != tt.want {
				t.Errorf("DecodeBCD(%X) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestAmountToBCD6(t *testing.T) {
	tests := []struct {
		amount  float64
		want    string
		wantErr bool
	}{
		{150000, "000015000000", false},
		{0, "000000000000", false},
		{12.34, "000000001234", false},
		{0.29, "000000000029", false},
		{9999999999.99, "999999999999", false},
		{1e10, "", true},
		{-1, "", true},
		{math.NaN(), "", true},
	}
	for _, tt := range tests {
		got, err := AmountToBCD6(tt.amount)
		if (err != nil) != tt.wantErr {
			t.Fatalf("AmountToBCD6(%v) error = %v, wantErr %v", tt.amount, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrAmountOutOfRange) {
			t.Errorf("AmountToBCD6(%v) error = %v, want ErrAmountOutOfRange", tt.amount, err)
		}
		if got != tt.want {
			t.Errorf("AmountToBCD6(%v) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestAmountBCDRoundTrip(t *testing.T) {
	for _, cents := range []int64{0, 1, 99, 100, 15000000, 123456789, 999999999999} {
		amount := float64(cents) / 100
		enc, err := AmountToBCD6(amount)
		if err != nil {
			t.Fatalf("AmountToBCD6(%v) error = %v", amount, err)
		}
		got, err := strconv.ParseInt(DecodeBCD(Hex(enc)), 10, 64)
		if err != nil {
			t.Fatalf("decode %s: %v", enc, err)
		}
		if got != cents {
			t.Errorf("round trip of %d cents = %d", cents, got)
		}
	}
}
