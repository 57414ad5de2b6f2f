package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultCurrency is used when a request names a currency field but leaves
// it empty.
const DefaultCurrency = "VND"

// Response is an inbound line from the controller or the bank connector.
// Every field is optional.
type Response struct {
	TransactionType string   `json:"transactionType"`
	Amount          string   `json:"amount,omitempty"`
	Status          string   `json:"status,omitempty"`
	Message         string   `json:"message,omitempty"`
	TransactionID   string   `json:"transactionId,omitempty"`
	TipAmount       *float64 `json:"tipAmount,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	TerminalID      string   `json:"terminalId,omitempty"`
	PcPosID         string   `json:"pcPosId,omitempty"`
}

// ParseResponse decodes one inbound JSON line. Field names are matched in
// the several spellings the backends have used:
//
//   - amount: TotTrAmt (number, written without decimals) or amount
//   - transaction id: TransactionId, transactionId or ID
//   - tip: TipAmt or tipAmt
//   - currency: CurrCd, currCd or currency
//   - terminal id: TerminalId or terminalId
//   - pc-pos id: PcPosId or pcPosId
func ParseResponse(line []byte) (*Response, error) {
	line = bytes.TrimSpace(line)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("parse response: not a JSON object")
	}
	f := fields(obj)

	r := &Response{
		TransactionType: f.strOr("UNKNOWN", "TransactionType"),
		Status:          f.str("Status"),
		Message:         f.str("ErrorDetail"),
		TransactionID:   f.str("TransactionId", "transactionId", "ID"),
		TerminalID:      f.str("TerminalId", "terminalId"),
		PcPosID:         f.str("PcPosId", "pcPosId"),
	}

	if raw, ok := f.first("TotTrAmt"); ok {
		r.Amount = strconv.FormatFloat(math.Round(number(raw)), 'f', 0, 64)
	} else {
		r.Amount = f.str("amount")
	}

	if raw, ok := f.first("TipAmt", "tipAmt"); ok {
		tip := number(raw)
		r.TipAmount = &tip
	}

	if _, ok := f.first("CurrCd", "currCd", "currency"); ok {
		r.Currency = f.strOr(DefaultCurrency, "CurrCd", "currCd", "currency")
	}
	return r, nil
}

type fields map[string]json.RawMessage

// first returns the raw value of the first key present.
func (f fields) first(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := f[k]; ok {
			return raw, true
		}
	}
	return nil, false
}

// str returns the first present key as text. Numbers and booleans are
// kept in their JSON form; null yields "".
func (f fields) str(keys ...string) string {
	raw, ok := f.first(keys...)
	if !ok {
		return ""
	}
	return text(raw)
}

func (f fields) strOr(def string, keys ...string) string {
	if s := f.str(keys...); s != "" {
		return s
	}
	return def
}

func text(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if t := strings.TrimSpace(string(raw)); t != "null" {
		return t
	}
	return ""
}

// number reads a JSON number or numeric string; anything else is 0.
func number(raw json.RawMessage) float64 {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(text(raw)), 64); err == nil {
		return v
	}
	return 0
}
