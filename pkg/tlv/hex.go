package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex joins hex fragments such as "00 A4 04 00" into bytes. It panics on
// malformed input and is meant for literals.
func Hex(parts ...string) []byte {
	clean := strings.ReplaceAll(strings.Join(parts, ""), " ", "")
	data, err := hex.DecodeString(clean)
	if err != nil {
		panic(fmt.Sprintf("tlv.Hex: invalid literal %q: %v", clean, err))
	}
	return data
}

// HexToASCII decodes a hex value and keeps its text, trimming surrounding
// spaces. Invalid hex yields "".
func HexToASCII(value string) string {
	data, err := hex.DecodeString(value)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
