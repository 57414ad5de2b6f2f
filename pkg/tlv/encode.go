package tlv

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MaxValueLen is the largest value Encode accepts.
const MaxValueLen = 255

var (
	// ErrValueTooLong is returned by Encode for values over MaxValueLen bytes.
	ErrValueTooLong = errors.New("tlv value exceeds 255 bytes")
	// ErrInvalidHex is returned when a tag or value is not valid hex.
	ErrInvalidHex = errors.New("invalid hex")
	// ErrInvalidTag is returned for empty tags or tags longer than two bytes.
	ErrInvalidTag = errors.New("invalid tag")
)

// Encode returns the upper-case hex of tag, length and value.
//
// Lengths up to 127 use a single byte. Lengths 128 to 255 are written as
// 81 LL so that Parse reads them back unchanged.
func Encode(tag, valueHex string) (string, error) {
	t, err := hex.DecodeString(tag)
	if err != nil {
		return "", fmt.Errorf("tag %q: %w", tag, ErrInvalidHex)
	}
	if len(t) == 0 || len(t) > 2 {
		return "", fmt.Errorf("tag %q: %w", tag, ErrInvalidTag)
	}
	v, err := hex.DecodeString(valueHex)
	if err != nil {
		return "", fmt.Errorf("tag %s value: %w", tag, ErrInvalidHex)
	}
	if len(v) > MaxValueLen {
		return "", fmt.Errorf("tag %s (%d bytes): %w", tag, len(v), ErrValueTooLong)
	}

	var sb strings.Builder
	sb.WriteString(strings.ToUpper(tag))
	if len(v) > 0x7F {
		sb.WriteString("81")
	}
	fmt.Fprintf(&sb, "%02X", len(v))
	sb.WriteString(strings.ToUpper(valueHex))
	return sb.String(), nil
}
