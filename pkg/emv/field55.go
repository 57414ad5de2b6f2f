package emv

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gregLibert/smart-pos/pkg/tlv"
)

// Field55PriorityTags is the emission order of Field 55. Tags not listed
// follow in map order. The bank connector depends on this order.
var Field55PriorityTags = []string{
	TagAID,
	TagAIP,
	TagPAN,
	TagCardholderName,
	TagExpiryDate,
	TagTransactionCurrency,
	TagServiceCode,
	TagTransactionDate,
	TagTransactionType,
	TagAmountAuthorized,
	TagAmountOther,
	TagTerminalCountry,
	TagTerminalID,
	TagTransactionTime,
	TagATC,
	TagIAD,
}

// DefaultTerminalCountry is written to 9F1A when the card supplied none.
const DefaultTerminalCountry = "0704"

var currencyCodes = map[string]int{
	"VND": 704,
	"USD": 840,
	"EUR": 978,
	"GBP": 826,
	"JPY": 392,
	"CNY": 156,
}

var transactionTypeCodes = map[string]string{
	"SALE":   "00",
	"CASH":   "01",
	"VOID":   "02",
	"REFUND": "20",
}

// CurrencyCode maps an ISO-4217 alphabetic code to the four-digit numeric
// form of tag 5F2A. Unknown currencies map to VND, "0704".
func CurrencyCode(alpha string) string {
	n, ok := currencyCodes[strings.ToUpper(strings.TrimSpace(alpha))]
	if !ok {
		n = currencyCodes["VND"]
	}
	return fmt.Sprintf("%04d", n)
}

// TransactionTypeCode maps a transaction type to tag 9C. Unknown types
// are treated as SALE.
func TransactionTypeCode(txnType string) string {
	if code, ok := transactionTypeCodes[strings.ToUpper(strings.TrimSpace(txnType))]; ok {
		return code
	}
	return transactionTypeCodes["SALE"]
}

// TerminalIDHex encodes a terminal id as eight ASCII bytes for tag 9F1E,
// truncating or padding with spaces. Non-ASCII characters become '?'.
func TerminalIDHex(id string) string {
	buf := make([]byte, 0, 8)
	for _, r := range id {
		if len(buf) == 8 {
			break
		}
		if r > 0x7F {
			r = '?'
		}
		buf = append(buf, byte(r))
	}
	for len(buf) < 8 {
		buf = append(buf, ' ')
	}
	return strings.ToUpper(hex.EncodeToString(buf))
}

// Field55Request carries the transaction data merged into Field 55.
type Field55Request struct {
	Amount          float64
	Tip             float64
	Currency        string // ISO-4217 alphabetic, e.g. "VND"
	TransactionType string // SALE, CASH, VOID or REFUND
	TerminalID      string
	Time            time.Time
}

// MergeField55Tags returns the card tags completed with the transaction
// tags. The card map is not modified.
func MergeField55Tags(card *tlv.Map, req Field55Request) (*tlv.Map, error) {
	amount, err := tlv.AmountToBCD6(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}

	out := card.Clone()
	out.Set(TagAmountAuthorized, amount)
	if req.Tip > 0 {
		tip, err := tlv.AmountToBCD6(req.Tip)
		if err != nil {
			return nil, fmt.Errorf("tip: %w", err)
		}
		out.Set(TagAmountOther, tip)
	}
	out.Set(TagTransactionCurrency, CurrencyCode(req.Currency))
	out.Set(TagTransactionType, TransactionTypeCode(req.TransactionType))
	out.Set(TagTerminalID, TerminalIDHex(req.TerminalID))
	out.Set(TagTransactionDate, req.Time.Format("060102"))
	out.Set(TagTransactionTime, req.Time.Format("150405"))
	if !out.Has(TagTerminalCountry) {
		out.Set(TagTerminalCountry, DefaultTerminalCountry)
	}
	return out, nil
}

// EncodeField55 emits the priority tags in order, then every other tag in
// map order, each as tag, length and value.
func EncodeField55(tags *tlv.Map) (string, error) {
	var sb strings.Builder
	priority := make(map[string]bool, len(Field55PriorityTags))

	for _, tag := range Field55PriorityTags {
		priority[tag] = true
		v, ok := tags.Get(tag)
		if !ok {
			continue
		}
		enc, err := tlv.Encode(tag, v)
		if err != nil {
			return "", err
		}
		sb.WriteString(enc)
	}

	var err error
	tags.Range(func(tag, value string) bool {
		if priority[tag] {
			return true
		}
		var enc string
		if enc, err = tlv.Encode(tag, value); err != nil {
			return false
		}
		sb.WriteString(enc)
		return true
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// BuildField55 merges the card tags with req and encodes Field 55.
func BuildField55(card *tlv.Map, req Field55Request) (string, error) {
	tags, err := MergeField55Tags(card, req)
	if err != nil {
		return "", err
	}
	return EncodeField55(tags)
}

// ParseField55 reads a Field 55 hex string back into tags.
func ParseField55(field55 string) (*tlv.Map, error) {
	return tlv.ParseHex(field55)
}

// DE55 is the JSON document sent to the bank connector alongside a
// Field 55 request.
type DE55 struct {
	DE55       string     `json:"de55"`
	DE55Length int        `json:"de55Length"`
	Parsed     DE55Parsed `json:"parsed"`
	Tags       *tlv.Map   `json:"tags"`
}

// DE55Parsed summarises the card and transaction in readable form.
type DE55Parsed struct {
	PAN             string  `json:"pan"`
	CardholderName  string  `json:"cardholderName"`
	ExpiryDate      string  `json:"expiryDate"`
	Amount          float64 `json:"amount"`
	TipAmount       float64 `json:"tipAmount"`
	Currency        string  `json:"currency"`
	TransactionType string  `json:"transactionType"`
	TerminalID      string  `json:"terminalId"`
	TransactionDate string  `json:"transactionDate"`
	TransactionTime string  `json:"transactionTime"`
	AID             string  `json:"aid"`
	ATC             string  `json:"atc"`
}

// BuildDE55 builds Field 55 for card and wraps it with its readable
// summary and the merged tag set.
func BuildDE55(card *CardData, req Field55Request) (*DE55, error) {
	tags, err := MergeField55Tags(card.tags, req)
	if err != nil {
		return nil, err
	}
	field55, err := EncodeField55(tags)
	if err != nil {
		return nil, err
	}
	return &DE55{
		DE55:       field55,
		DE55Length: len(field55) / 2,
		Parsed: DE55Parsed{
			PAN:             card.PAN,
			CardholderName:  card.CardholderName,
			ExpiryDate:      card.ExpiryDate,
			Amount:          req.Amount,
			TipAmount:       req.Tip,
			Currency:        req.Currency,
			TransactionType: req.TransactionType,
			TerminalID:      req.TerminalID,
			TransactionDate: tags.Value(TagTransactionDate),
			TransactionTime: tags.Value(TagTransactionTime),
			AID:             card.AID,
			ATC:             card.ATC,
		},
		Tags: tags,
	}, nil
}

// JSON renders {"emvData": {...}}.
func (d *DE55) JSON() (string, error) {
	out, err := json.Marshal(struct {
		EMVData *DE55 `json:"emvData"`
	}{d})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
