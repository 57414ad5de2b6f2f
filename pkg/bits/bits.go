// Package bits reads and sets the bit fields found in TLV headers, AFL
// entries and NDEF record headers. Bits are numbered 1 (least significant)
// to 8, as EMV Book 3 numbers them.
package bits

// Mask returns the byte with only bit n set, or 0 outside 1..8.
func Mask(n uint) byte {
	if n == 0 || n > 8 {
		return 0
	}
	return 0x80 >> (8 - n)
}

// IsSet reports whether bit n of b is 1.
func IsSet(b byte, n uint) bool {
	return b&Mask(n) != 0
}

// Set returns b with bit n raised.
func Set(b byte, n uint) byte {
	return b | Mask(n)
}

// Field returns bits high..low of b, shifted down. An SFI is Field(b, 8, 4),
// a tag number Field(b, 5, 1). Invalid bounds yield 0.
func Field(b byte, high, low uint) byte {
	if low == 0 || high > 8 || high < low {
		return 0
	}
	v := uint(b) >> (low - 1)
	return byte(v & (1<<(high-low+1) - 1))
}

// Nibbles splits b into its high and low half-bytes, as BCD digits are
// packed.
func Nibbles(b byte) (hi, lo byte) {
	return b >> 4, b & 0x0F
}
