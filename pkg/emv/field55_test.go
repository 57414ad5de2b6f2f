package emv

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/smart-pos/pkg/tlv"
)

func sampleCardTags() *tlv.Map {
	m := tlv.NewMap()
	m.Set("9F26", "1122334455667788")
	m.Set("5A", "4761739001010010")
	m.Set("4F", "A0000000031010")
	m.Set("5F24", "271231")
	m.Set("9F36", "0042")
	m.Set("82", "1980")
	return m
}

func sampleRequest() Field55Request {
	return Field55Request{
		Amount:          150000,
		Currency:        "VND",
		TransactionType: "SALE",
		TerminalID:      "TERM0001",
		Time:            time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC),
	}
}

func TestBuildField55(t *testing.T) {
	withTip := sampleRequest()
	withTip.Tip = 15000

	refund := sampleRequest()
	refund.TransactionType = "refund"
	refund.Currency = "usd"

	usCard := sampleCardTags()
	usCard.Set("9F1A", "0840")

	tests := []struct {
		name string
		card *tlv.Map
		req  Field55Request
		want []string
	}{
		{
			name: "Sale without tip",
			card: sampleCardTags(),
			req:  sampleRequest(),
			want: []string{
				"4F07A0000000031010",
				"82021980",
				"5A084761739001010010",
				"5F2403271231",
				"5F2A020704",
				"9A03240305",
				"9C0100",
				"9F0206000015000000",
				"9F1A020704",
				"9F1E085445524D30303031",
				"9F2103140709",
				"9F36020042",
				"9F26081122334455667788",
			},
		},
		{
			name: "Tip and card country",
			card: usCard,
			req:  withTip,
			want: []string{
				"4F07A0000000031010",
				"82021980",
				"5A084761739001010010",
				"5F2403271231",
				"5F2A020704",
				"9A03240305",
				"9C0100",
				"9F0206000015000000",
				"9F0306000001500000",
				"9F1A020840",
				"9F1E085445524D30303031",
				"9F2103140709",
				"9F36020042",
				"9F26081122334455667788",
			},
		},
		{
			name: "Refund in dollars",
			card: sampleCardTags(),
			req:  refund,
			want: []string{
				"4F07A0000000031010",
				"82021980",
				"5A084761739001010010",
				"5F2403271231",
				"5F2A020840",
				"9A03240305",
				"9C0120",
				"9F0206000015000000",
				"9F1A020704",
				"9F1E085445524D30303031",
				"9F2103140709",
				"9F36020042",
				"9F26081122334455667788",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildField55(tt.card, tt.req)
			if err != nil {
				t.Fatalf("BuildField55() error = %v", err)
			}
			if want := strings.Join(tt.want, ""); got != want {
				t.Errorf("BuildField55() =\n%s\nwant\n%s", got, want)
			}

			again, _ := BuildField55(tt.card, tt.req)
			if again != got {
				t.Error("BuildField55() is not deterministic")
			}
		})
	}
}

func TestBuildField55_LeavesCardUntouched(t *testing.T) {
	card := sampleCardTags()
	if _, err := BuildField55(card, sampleRequest()); err != nil {
		t.Fatalf("BuildField55() error = %v", err)
	}
	if card.Len() != 6 || card.Has(TagAmountAuthorized) {
		t.Errorf("card map changed: %v", card.Keys())
	}
}

func TestBuildField55_PriorityBeforeOthers(t *testing.T) {
	card := tlv.NewMap()
	card.Set("DF01", "01")
	card.Set("9F10", "0110A00000")
	card.Set("57", "4761739001010010D27122")
	card.Set("4F", "A0000000041010")

	got, err := BuildField55(card, sampleRequest())
	if err != nil {
		t.Fatalf("BuildField55() error = %v", err)
	}
	parsed, err := ParseField55(got)
	if err != nil {
		t.Fatalf("ParseField55() error = %v", err)
	}

	want := []string{"4F", "5F2A", "9A", "9C", "9F02", "9F1A", "9F1E", "9F21", "9F10", "DF01", "57"}
	if diff := cmp.Diff(want, parsed.Keys()); diff != "" {
		t.Errorf("Tag order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildField55_Errors(t *testing.T) {
	negative := sampleRequest()
	negative.Amount = -1
	if _, err := BuildField55(sampleCardTags(), negative); !errors.Is(err, tlv.ErrAmountOutOfRange) {
		t.Errorf("negative amount error = %v, want ErrAmountOutOfRange", err)
	}

	hugeTip := sampleRequest()
	hugeTip.Tip = 1e12
	if _, err := BuildField55(sampleCardTags(), hugeTip); !errors.Is(err, tlv.ErrAmountOutOfRange) {
		t.Errorf("huge tip error = %v, want ErrAmountOutOfRange", err)
	}

	card := sampleCardTags()
	card.Set("9F10", strings.Repeat("00", 256))
	if _, err := BuildField55(card, sampleRequest()); !errors.Is(err, tlv.ErrValueTooLong) {
		t.Errorf("oversized tag error = %v, want ErrValueTooLong", err)
	}
}

func TestField55Codes(t *testing.T) {
	currencies := map[string]string{
		"VND": "0704", "usd": "0840", "EUR": "0978", "GBP": "0826",
		"JPY": "0392", "CNY": "0156", "XYZ": "0704", "": "0704",
	}
	for in, want := range currencies {
		if got := CurrencyCode(in); got != want {
			t.Errorf("CurrencyCode(%q) = %s, want %s", in, got, want)
		}
	}

	types := map[string]string{
		"SALE": "00", "cash": "01", "VOID": "02", "REFUND": "20", "QR": "00", "": "00",
	}
	for in, want := range types {
		if got := TransactionTypeCode(in); got != want {
			t.Errorf("TransactionTypeCode(%q) = %s, want %s", in, got, want)
		}
	}

	ids := map[string]string{
		"T1":            "5431202020202020",
		"TERMINAL-LONG": "5445524D494E414C",
		"ÄB":            "3F42202020202020",
		"":              "2020202020202020",
	}
	for in, want := range ids {
		if got := TerminalIDHex(in); got != want {
			t.Errorf("TerminalIDHex(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestBuildDE55(t *testing.T) {
	card := NewCardData(sampleCardTags())
	req := sampleRequest()
	req.Tip = 100

	de55, err := BuildDE55(card, req)
	if err != nil {
		t.Fatalf("BuildDE55() error = %v", err)
	}
	if de55.DE55Length != len(de55.DE55)/2 {
		t.Errorf("DE55Length = %d for %d hex chars", de55.DE55Length, len(de55.DE55))
	}

	out, err := de55.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}

	var doc struct {
		EMVData struct {
			DE55   string            `json:"de55"`
			Parsed map[string]any    `json:"parsed"`
			Tags   map[string]string `json:"tags"`
		} `json:"emvData"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("unmarshal %s: %v", out, err)
	}

	want := map[string]any{
		"pan":             "4761739001010010",
		"cardholderName":  "",
		"expiryDate":      "271231",
		"amount":          150000.0,
		"tipAmount":       100.0,
		"currency":        "VND",
		"transactionType": "SALE",
		"terminalId":      "TERM0001",
		"transactionDate": "240305",
		"transactionTime": "140709",
		"aid":             "A0000000031010",
		"atc":             "0042",
	}
	if diff := cmp.Diff(want, doc.EMVData.Parsed); diff != "" {
		t.Errorf("parsed mismatch (-want +got):\n%s", diff)
	}
	if doc.EMVData.DE55 != de55.DE55 {
		t.Errorf("de55 = %s", doc.EMVData.DE55)
	}
	if doc.EMVData.Tags["9F03"] != "000000010000" || doc.EMVData.Tags["9F02"] != "000015000000" {
		t.Errorf("tags = %v", doc.EMVData.Tags)
	}
}
