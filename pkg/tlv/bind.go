package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Unmarshaler lets a field type decode its own TLV value.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

// Unmarshal decodes BER-TLV data with moov-io/bertlv and binds it to the
// struct pointed to by target.
//
// Fields are matched through a `tlv:"<tag>"` struct tag. Supported field
// kinds are []byte, string (upper-case hex, or text with `fmt:"ascii"`),
// nested structs or struct pointers for templates, slices of those for
// repeated tags, and any type implementing Unmarshaler. A []bertlv.TLV field
// tagged `tlv:",unknown"` receives every object no other field consumed.
func Unmarshal(data []byte, target interface{}) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode: %w", err)
	}
	return Bind(packets, target)
}

// Bind maps already decoded objects onto target. See Unmarshal.
func Bind(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("bind target must be a non-nil pointer, got %T", target)
	}
	v = v.Elem()
	t := v.Type()

	consumed := make(map[int]bool)
	var unknown reflect.Value

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		def := sf.Tag.Get("tlv")
		if def == ",unknown" {
			unknown = v.Field(i)
			continue
		}
		if def == "" {
			continue
		}
		tag := strings.ToUpper(strings.Split(def, ",")[0])

		for idx, p := range packets {
			if !strings.EqualFold(p.Tag, tag) {
				continue
			}
			if err := assign(p, v.Field(i), sf.Tag.Get("fmt")); err != nil {
				return fmt.Errorf("tag %s: %w", tag, err)
			}
			consumed[idx] = true
		}
	}

	if unknown.IsValid() && unknown.CanSet() {
		var rest []bertlv.TLV
		for idx, p := range packets {
			if !consumed[idx] {
				rest = append(rest, p)
			}
		}
		if len(rest) > 0 {
			unknown.Set(reflect.ValueOf(rest))
		}
	}
	return nil
}

func assign(p bertlv.TLV, field reflect.Value, format string) error {
	if u, ok := unmarshaler(field); ok {
		return u.UnmarshalTLV(rawValue(p))
	}
	if field.Kind() == reflect.Slice && !isByteSlice(field) {
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeValue(p, elem, format); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil
	}
	return decodeValue(p, field, format)
}

func decodeValue(p bertlv.TLV, field reflect.Value, format string) error {
	if u, ok := unmarshaler(field); ok {
		return u.UnmarshalTLV(rawValue(p))
	}

	switch {
	case isByteSlice(field):
		field.SetBytes(rawValue(p))
	case field.Kind() == reflect.String:
		if format == "ascii" {
			field.SetString(strings.TrimSpace(string(p.Value)))
		} else {
			field.SetString(strings.ToUpper(hex.EncodeToString(p.Value)))
		}
	case field.Kind() == reflect.Struct:
		return bindTemplate(p, field.Addr())
	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return bindTemplate(p, field)
	}
	return nil
}

func unmarshaler(field reflect.Value) (Unmarshaler, bool) {
	if !field.CanAddr() {
		return nil, false
	}
	u, ok := field.Addr().Interface().(Unmarshaler)
	return u, ok
}

func bindTemplate(p bertlv.TLV, ptr reflect.Value) error {
	if len(p.TLVs) > 0 {
		return Bind(p.TLVs, ptr.Interface())
	}
	return Unmarshal(p.Value, ptr.Interface())
}

// rawValue returns the value bytes of p, re-encoding children for templates.
func rawValue(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}
