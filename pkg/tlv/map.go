package tlv

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Map is an insertion-ordered set of EMV tags and their hex-encoded values.
// Tags and values are stored upper-case. Setting a tag that is already
// present replaces its value but keeps its original position.
//
// The zero value is an empty map ready to use.
type Map struct {
	keys   []string
	values map[string]string
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{values: make(map[string]string)}
}

// Set stores value under tag.
func (m *Map) Set(tag, value string) {
	tag = strings.ToUpper(tag)
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[tag]; !ok {
		m.keys = append(m.keys, tag)
	}
	m.values[tag] = strings.ToUpper(value)
}

func (m *Map) set(tag, value []byte) bool {
	m.Set(hex.EncodeToString(tag), hex.EncodeToString(value))
	return true
}

// Get returns the value stored under tag.
func (m *Map) Get(tag string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.values[strings.ToUpper(tag)]
	return v, ok
}

// Value returns the value stored under tag, or "" when absent.
func (m *Map) Value(tag string) string {
	v, _ := m.Get(tag)
	return v
}

// Has reports whether tag is present.
func (m *Map) Has(tag string) bool {
	_, ok := m.Get(tag)
	return ok
}

// Keys returns the tags in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of tags.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Range calls fn for every tag in insertion order until fn returns false.
func (m *Map) Range(fn func(tag, value string) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Clone returns an independent copy of m.
func (m *Map) Clone() *Map {
	out := NewMap()
	m.Range(func(tag, value string) bool {
		out.Set(tag, value)
		return true
	})
	return out
}

// Merge copies every tag of other into m, in other's order.
func (m *Map) Merge(other *Map) {
	other.Range(func(tag, value string) bool {
		m.Set(tag, value)
		return true
	})
}

// MarshalJSON encodes the map as a JSON object whose keys keep insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	i := 0
	var err error
	m.Range(func(tag, value string) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		var k, v []byte
		if k, err = json.Marshal(tag); err != nil {
			return false
		}
		if v, err = json.Marshal(value); err != nil {
			return false
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of string values, keeping document order.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("tlv map: expected JSON object, got %v", tok)
	}

	out := NewMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("tlv map: tag %s: %w", key, err)
		}
		out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*m = *out
	return nil
}
