package tlv

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/gregLibert/smart-pos/pkg/bits"
)

// ErrAmountOutOfRange is returned for negative amounts or amounts that do not
// fit in six BCD bytes once converted to minor units.
var ErrAmountOutOfRange = errors.New("amount out of range")

// DecodeBCD unpacks two digits per byte, high nibble first. Nibbles above 9
// (such as the F padding of an odd-length PAN) are dropped.
func DecodeBCD(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		hi, lo := bits.Nibbles(b)
		if hi <= 9 {
			sb.WriteByte('0' + hi)
		}
		if lo <= 9 {
			sb.WriteByte('0' + lo)
		}
	}
	return sb.String()
}

// AmountToBCD6 converts a major-unit amount to twelve decimal digits of
// minor units (cents), the format of tags 9F02 and 9F03. 150000 becomes
// "000015000000".
func AmountToBCD6(amount float64) (string, error) {
	if math.IsNaN(amount) || amount < 0 {
		return "", fmt.Errorf("%v: %w", amount, ErrAmountOutOfRange)
	}
	cents := math.Round(amount * 100)
	if cents >= 1e12 {
		return "", fmt.Errorf("%v: %w", amount, ErrAmountOutOfRange)
	}
	return fmt.Sprintf("%012d", int64(cents)), nil
}
