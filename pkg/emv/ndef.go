package emv

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gregLibert/smart-pos/pkg/bits"
	"github.com/gregLibert/smart-pos/pkg/tlv"
)

// ErrNoEMVTags is returned when an NDEF JSON payload has no "emvTags" field.
var ErrNoEMVTags = errors.New("no emvTags field in payload")

// NDEFRecord is the first record of an NDEF message.
type NDEFRecord struct {
	TNF     byte
	Type    []byte
	Payload []byte
}

// IsText reports a well-known "T" record.
func (r NDEFRecord) IsText() bool {
	return r.TNF == 0x01 && string(r.Type) == "T"
}

// Text returns the text of a text record, skipping the status byte and
// language code. Other records, and text records whose language code fills
// the payload, are returned as-is.
func (r NDEFRecord) Text() string {
	if !r.IsText() || len(r.Payload) == 0 {
		return string(r.Payload)
	}
	start := 1 + int(bits.Field(r.Payload[0], 6, 1))
	if start >= len(r.Payload) {
		return string(r.Payload)
	}
	return string(r.Payload[start:])
}

// ParseNDEFRecord decodes the first record of an NDEF message.
func ParseNDEFRecord(msg []byte) (NDEFRecord, error) {
	if len(msg) < 3 {
		return NDEFRecord{}, fmt.Errorf("ndef message too short: %d bytes", len(msg))
	}
	header := msg[0]
	shortRecord := bits.IsSet(header, 5)
	hasID := bits.IsSet(header, 4)

	rec := NDEFRecord{TNF: bits.Field(header, 3, 1)}
	typeLen := int(msg[1])
	pos := 2

	var payloadLen int
	if shortRecord {
		payloadLen = int(msg[pos])
		pos++
	} else {
		if pos+4 > len(msg) {
			return NDEFRecord{}, errors.New("ndef record: truncated payload length")
		}
		payloadLen = int(binary.BigEndian.Uint32(msg[pos : pos+4]))
		pos += 4
	}

	idLen := 0
	if hasID {
		if pos >= len(msg) {
			return NDEFRecord{}, errors.New("ndef record: truncated id length")
		}
		idLen = int(msg[pos])
		pos++
	}

	if pos+typeLen+idLen+payloadLen > len(msg) {
		return NDEFRecord{}, errors.New("ndef record: truncated body")
	}
	rec.Type = msg[pos : pos+typeLen]
	pos += typeLen + idLen
	rec.Payload = msg[pos : pos+payloadLen]
	return rec, nil
}

// CardDataFromNDEF decodes an NDEF message whose first record carries the
// card JSON payload.
func CardDataFromNDEF(msg []byte) (*CardData, error) {
	rec, err := ParseNDEFRecord(msg)
	if err != nil {
		return nil, err
	}
	return CardDataFromJSON(rec.Text())
}

// CardDataFromJSON decodes {"emvTags": {"5A": "...", ...}}. The whole
// document may be wrapped in quotes with escaped inner quotes, and emvTags
// may itself be a JSON string holding the object.
func CardDataFromJSON(text string) (*CardData, error) {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		text = text[1 : len(text)-1]
		text = strings.ReplaceAll(text, `\"`, `"`)
		text = strings.ReplaceAll(text, `\\`, `\`)
	}

	var doc struct {
		EMVTags json.RawMessage `json:"emvTags"`
	}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("card payload: %w", err)
	}
	if len(doc.EMVTags) == 0 || string(doc.EMVTags) == "null" {
		return nil, ErrNoEMVTags
	}

	raw := doc.EMVTags
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("emvTags string: %w", err)
		}
		raw = json.RawMessage(inner)
	}

	tags := tlv.NewMap()
	if err := json.Unmarshal(raw, tags); err != nil {
		return nil, fmt.Errorf("emvTags: %w", err)
	}
	return NewCardData(tags), nil
}
