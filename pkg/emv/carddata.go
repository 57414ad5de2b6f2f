package emv

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/gregLibert/smart-pos/pkg/tlv"
)

// Card schemes, identified by AID prefix or, failing that, by the first
// PAN digit.
const (
	SchemeVisa       = "VISA"
	SchemeMastercard = "MASTERCARD"
	SchemeAmex       = "AMEX"
	SchemeJCB        = "JCB"
	SchemeUnionPay   = "UNIONPAY"
	SchemeDiscover   = "DISCOVER"
	SchemeUnknown    = "UNKNOWN"
)

var schemeByRID = []struct {
	prefix string
	scheme string
}{
	{"A000000003", SchemeVisa},
	{"A000000004", SchemeMastercard},
	{"A000000025", SchemeAmex},
	{"A000000065", SchemeJCB},
	{"A000000333", SchemeUnionPay},
}

// CardData is a read-only view over the TLV data collected from one card.
type CardData struct {
	tags *tlv.Map

	PAN            string `tlv:"5A"`
	CardholderName string `tlv:"5F20"`
	ExpiryDate     string `tlv:"5F24"` // YYMMDD
	PANSequence    string `tlv:"5F34"`
	AID            string `tlv:"4F"`
	Label          string `tlv:"50"`
	Cryptogram     string `tlv:"9F26"`
	ATC            string `tlv:"9F36"`
	AIP            string `tlv:"82"`
	TVR            string `tlv:"95"`
	TSI            string `tlv:"9B"`
	CVMResults     string `tlv:"9F34"`
	IAD            string `tlv:"9F10"`
}

// NewCardData derives the card fields from tags. The map is copied.
func NewCardData(tags *tlv.Map) *CardData {
	m := tags.Clone()
	return &CardData{
		tags:           m,
		PAN:            bcdValue(m.Value(TagPAN)),
		CardholderName: tlv.HexToASCII(m.Value(TagCardholderName)),
		ExpiryDate:     m.Value(TagExpiryDate),
		PANSequence:    m.Value(TagPANSequence),
		AID:            m.Value(TagAID),
		Label:          tlv.HexToASCII(m.Value(TagApplicationLabel)),
		Cryptogram:     m.Value(TagApplicationCryptogram),
		ATC:            m.Value(TagATC),
		AIP:            m.Value(TagAIP),
		TVR:            m.Value(TagTVR),
		TSI:            m.Value(TagTSI),
		CVMResults:     m.Value(TagCVMResults),
		IAD:            m.Value(TagIAD),
	}
}

// CardDataFromBytes parses raw card responses, descending into templates.
func CardDataFromBytes(data []byte) *CardData {
	return NewCardData(tlv.ParseNested(data))
}

func bcdValue(v string) string {
	if v == "" {
		return ""
	}
	data, err := hex.DecodeString(v)
	if err != nil {
		return ""
	}
	return tlv.DecodeBCD(data)
}

// Tags returns a copy of the underlying TLV map.
func (c *CardData) Tags() *tlv.Map {
	return c.tags.Clone()
}

// MaskedPAN shows only the last four PAN digits: "**** **** **** 1234".
func (c *CardData) MaskedPAN() string {
	if len(c.PAN) < 4 {
		return "**** **** **** ****"
	}
	return "**** **** **** " + c.PAN[len(c.PAN)-4:]
}

// FormattedExpiry returns the expiry as MM/YY, or "00/00" when unknown.
func (c *CardData) FormattedExpiry() string {
	return formatExpiry(c.ExpiryDate)
}

func formatExpiry(yymmdd string) string {
	if len(yymmdd) < 4 {
		return "00/00"
	}
	return yymmdd[2:4] + "/" + yymmdd[0:2]
}

// Scheme identifies the card network.
func (c *CardData) Scheme() string {
	if c.AID != "" {
		aid := strings.ToUpper(c.AID)
		for _, s := range schemeByRID {
			if strings.HasPrefix(aid, s.prefix) {
				return s.scheme
			}
		}
		return SchemeUnknown
	}
	if c.PAN != "" {
		switch c.PAN[0] {
		case '4':
			return SchemeVisa
		case '5':
			return SchemeMastercard
		case '3':
			return SchemeAmex
		case '6':
			return SchemeDiscover
		}
	}
	return SchemeUnknown
}

type parsedCard struct {
	TLV              *tlv.Map `json:"tlv"`
	PAN              string   `json:"pan,omitempty"`
	CardholderName   string   `json:"cardholderName,omitempty"`
	ExpiryDate       string   `json:"expiryDate,omitempty"`
	AID              string   `json:"aid,omitempty"`
	ApplicationLabel string   `json:"applicationLabel,omitempty"`
}

// MarshalJSON renders {"parsed": {"tlv": {...}, "pan": ..., ...}} with the
// expiry as MM/YY.
func (c *CardData) MarshalJSON() ([]byte, error) {
	p := parsedCard{
		TLV:              c.tags,
		PAN:              c.PAN,
		CardholderName:   c.CardholderName,
		AID:              c.AID,
		ApplicationLabel: c.Label,
	}
	if p.TLV == nil {
		p.TLV = tlv.NewMap()
	}
	if c.ExpiryDate != "" {
		p.ExpiryDate = formatExpiry(c.ExpiryDate)
	}
	return json.Marshal(struct {
		Parsed parsedCard `json:"parsed"`
	}{p})
}

// Describe renders the card fields as a report.
func (c *CardData) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== EMV CARD DATA ===")
	view := *c
	view.PAN = c.MaskedPAN()
	tlv.WriteStructFields(&sb, "Card", view)
	sb.WriteString("\n    - Card.Scheme: " + c.Scheme())
	sb.WriteString("\n    - Card.Expiry: " + c.FormattedExpiry())
	return sb.String()
}
