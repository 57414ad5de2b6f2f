package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gregLibert/smart-pos/pkg/bits"
)

// Parse walks data as a flat sequence of TLV objects.
//
// A tag is two bytes when the low five bits of its first byte are all set,
// one byte otherwise. A length byte with bit 8 set announces that many
// following big-endian length bytes. When a tag, length or value would run
// past the end of data, parsing stops and the tags decoded so far are
// returned.
func Parse(data []byte) *Map {
	m := NewMap()
	walk(data, false, m.set)
	return m
}

// ParseNested is like Parse but descends into constructed objects
// (templates such as 6F, 70, 77, A5 or BF0C) and only stores their
// primitive leaves.
func ParseNested(data []byte) *Map {
	m := NewMap()
	walk(data, true, m.set)
	return m
}

// FindFirst returns the value of the first occurrence of tag in document
// order, descending into constructed objects. Truncated data is searched up
// to the point where it breaks.
func FindFirst(data []byte, tag string) (string, bool) {
	want := strings.ToUpper(tag)
	var found string
	ok := false
	walk(data, true, func(t, v []byte) bool {
		if strings.ToUpper(hex.EncodeToString(t)) != want {
			return true
		}
		found, ok = strings.ToUpper(hex.EncodeToString(v)), true
		return false
	})
	return found, ok
}

// ParseHex decodes s (spaces allowed) and parses it with Parse.
func ParseHex(s string) (*Map, error) {
	data, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return Parse(data), nil
}

// IsConstructed reports whether the first tag byte marks a constructed object.
func IsConstructed(first byte) bool {
	return bits.IsSet(first, 6)
}

// walk calls visit for every object, or every primitive leaf when nested is
// set, until visit returns false. It reports whether the walk was stopped.
func walk(data []byte, nested bool, visit func(tag, value []byte) bool) bool {
	off := 0
	for off < len(data) {
		tag, n := readTag(data[off:])
		if n == 0 {
			return false
		}
		off += n

		length, n := readLength(data[off:])
		if n == 0 {
			return false
		}
		off += n

		if uint64(len(data)-off) < length {
			return false
		}
		value := data[off : off+int(length)]
		off += int(length)

		if nested && IsConstructed(tag[0]) {
			if walk(value, true, visit) {
				return true
			}
			continue
		}
		if !visit(tag, value) {
			return true
		}
	}
	return false
}

// readTag returns the tag bytes and how many bytes it used, or 0 on truncation.
func readTag(data []byte) ([]byte, int) {
	if len(data) == 0 {
		return nil, 0
	}
	if bits.Field(data[0], 5, 1) != 0x1F {
		return data[:1], 1
	}
	if len(data) < 2 {
		return nil, 0
	}
	return data[:2], 2
}

// readLength returns the decoded length and how many bytes it used, or 0 on
// truncation. More than four length bytes is treated as truncation.
func readLength(data []byte) (uint64, int) {
	if len(data) == 0 {
		return 0, 0
	}
	first := data[0]
	if !bits.IsSet(first, 8) {
		return uint64(first), 1
	}

	count := int(bits.Field(first, 7, 1))
	if count == 0 || count > 4 || len(data) < 1+count {
		return 0, 0
	}
	var length uint64
	for _, b := range data[1 : 1+count] {
		length = length<<8 | uint64(b)
	}
	return length, 1 + count
}
