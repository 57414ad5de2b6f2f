package emv

import (
	"fmt"
	"strings"

	"github.com/gregLibert/smart-pos/pkg/bits"
	"github.com/gregLibert/smart-pos/pkg/tlv"
	"github.com/moov-io/bertlv"
)

// AFLEntry is one four-byte entry of the Application File Locator: the
// records First..Last of file SFI, of which the first OfflineAuth records
// take part in offline data authentication.
type AFLEntry struct {
	SFI         byte
	First       byte
	Last        byte
	OfflineAuth byte
}

// AFL is the Application File Locator (tag 94).
type AFL []AFLEntry

// UnmarshalTLV decodes the raw AFL value.
func (a *AFL) UnmarshalTLV(data []byte) error {
	parsed, err := ParseAFL(data)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAFL decodes an AFL value. Entries with SFI 0, a zero first record or
// a last record below the first are rejected.
func ParseAFL(data []byte) (AFL, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("AFL length %d is not a multiple of 4", len(data))
	}
	var afl AFL
	for i := 0; i < len(data); i += 4 {
		e := AFLEntry{
			SFI:         bits.Field(data[i], 8, 4),
			First:       data[i+1],
			Last:        data[i+2],
			OfflineAuth: data[i+3],
		}
		if e.SFI == 0 || e.First == 0 || e.Last < e.First {
			return nil, fmt.Errorf("invalid AFL entry %X", data[i:i+4])
		}
		afl = append(afl, e)
	}
	return afl, nil
}

// RecordRef names one record of one short file.
type RecordRef struct {
	SFI    byte
	Record byte
}

// Records expands the AFL into the list of records to read, in order.
func (a AFL) Records() []RecordRef {
	var out []RecordRef
	for _, e := range a {
		for r := int(e.First); r <= int(e.Last); r++ {
			out = append(out, RecordRef{SFI: e.SFI, Record: byte(r)})
		}
	}
	return out
}

// ProcessingOptions is the decoded GET PROCESSING OPTIONS response.
type ProcessingOptions struct {
	AIP []byte
	AFL AFL
}

type gpoFormat2 struct {
	AIP []byte `tlv:"82"`
	AFL AFL    `tlv:"94"`
}

// ParseProcessingOptions decodes either response format: 80 (AIP followed
// by the AFL) or the 77 template carrying tags 82 and 94.
func ParseProcessingOptions(data []byte) (*ProcessingOptions, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode GPO response: %w", err)
	}
	if len(packets) == 0 {
		return nil, fmt.Errorf("empty GPO response")
	}

	switch p := packets[0]; strings.ToUpper(p.Tag) {
	case "80":
		if len(p.Value) < 2 {
			return nil, fmt.Errorf("GPO format 1 too short: %d bytes", len(p.Value))
		}
		afl, err := ParseAFL(p.Value[2:])
		if err != nil {
			return nil, err
		}
		return &ProcessingOptions{AIP: p.Value[:2], AFL: afl}, nil
	case "77":
		var f gpoFormat2
		if err := tlv.Bind(p.TLVs, &f); err != nil {
			return nil, fmt.Errorf("map GPO response: %w", err)
		}
		return &ProcessingOptions{AIP: f.AIP, AFL: f.AFL}, nil
	default:
		return nil, fmt.Errorf("unexpected GPO response template %s", p.Tag)
	}
}
