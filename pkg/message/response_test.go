package message

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ptr(f float64) *float64 { return &f }

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want *Response
	}{
		{
			name: "Controller sale request",
			line: `{"TransactionType":"SALE","TotTrAmt":150000.0,"TransactionId":"T1"}`,
			want: &Response{TransactionType: "SALE", Amount: "150000", TransactionID: "T1"},
		},
		{
			name: "Amount as string and lower-case fields",
			line: `{"TransactionType":"REFUND","amount":"25.50","transactionId":"T2","tipAmt":5,"currCd":"USD","terminalId":"TERM2","pcPosId":"PC2"}` + "\n",
			want: &Response{
				TransactionType: "REFUND",
				Amount:          "25.50",
				TransactionID:   "T2",
				TipAmount:       ptr(5),
				Currency:        "USD",
				TerminalID:      "TERM2",
				PcPosID:         "PC2",
			},
		},
		{
			name: "Upper-case variants win",
			line: `{"TotTrAmt":"1234.6","amount":"1","TransactionId":"A","ID":"B","TipAmt":1.5,"tipAmt":2,"CurrCd":"EUR","currency":"GBP","TerminalId":"X","terminalId":"Y","PcPosId":"P","pcPosId":"Q"}`,
			want: &Response{
				TransactionType: "UNKNOWN",
				Amount:          "1235",
				TransactionID:   "A",
				TipAmount:       ptr(1.5),
				Currency:        "EUR",
				TerminalID:      "X",
				PcPosID:         "P",
			},
		},
		{
			name: "ID fallback and empty currency",
			line: `{"ID":42,"currency":"","Status":"APPROVED","ErrorDetail":"ok"}`,
			want: &Response{
				TransactionType: "UNKNOWN",
				TransactionID:   "42",
				Currency:        "VND",
				Status:          "APPROVED",
				Message:         "ok",
			},
		},
		{
			name: "Non numeric TotTrAmt",
			line: `{"TotTrAmt":"abc","TipAmt":null}`,
			want: &Response{TransactionType: "UNKNOWN", Amount: "0", TipAmount: ptr(0)},
		},
		{
			name: "Half amounts round up",
			line: `{"TotTrAmt":2.5,"TransactionId":"H1"}`,
			want: &Response{TransactionType: "UNKNOWN", Amount: "3", TransactionID: "H1"},
		},
		{
			name: "Half amount as string",
			line: `{"TotTrAmt":"150000.5"}`,
			want: &Response{TransactionType: "UNKNOWN", Amount: "150001"},
		},
		{
			name: "Empty object",
			line: `{}`,
			want: &Response{TransactionType: "UNKNOWN"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse([]byte(tt.line))
			if err != nil {
				t.Fatalf("ParseResponse() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	for _, line := range []string{"", "not json", `{"a":`, "[1,2]", "null", `"text"`} {
		if _, err := ParseResponse([]byte(line)); err == nil {
			t.Errorf("ParseResponse(%q) should fail", line)
		}
	}
}
