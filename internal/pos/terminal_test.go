package pos

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/smart-pos/internal/conn"
	"github.com/gregLibert/smart-pos/pkg/emv"
	"github.com/gregLibert/smart-pos/pkg/message"
	"github.com/gregLibert/smart-pos/pkg/tlv"
)

var (
	quiet   = slog.New(slog.NewTextHandler(io.Discard, nil))
	fixedAt = time.Date(2026, 10, 16, 14, 30, 5, 0, time.UTC)
)

type fakeController struct {
	sent chan message.Message
	err  error
}

func (f *fakeController) Send(m message.Message) error {
	f.sent <- m
	return f.err
}

type fakeBank struct {
	sent chan message.Message
	err  error
}

func (f *fakeBank) Send(_ context.Context, m message.Message) error {
	f.sent <- m
	return f.err
}

type fakeReader struct {
	card *emv.CardData
	err  error
}

func (f *fakeReader) ReadCard(ctx context.Context) (*emv.CardData, error) {
	if f.card == nil && f.err == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.card, f.err
}

func visaCard() *emv.CardData {
	tags := tlv.NewMap()
	tags.Set("4F", "A0000000031010")
	tags.Set("5A", "4761739001010010")
	tags.Set("5F24", "271231")
	tags.Set("9F36", "0001")
	return emv.NewCardData(tags)
}

type harness struct {
	term       *Terminal
	controller *fakeController
	bank       *fakeBank
	states     chan conn.State
}

func newHarness(t *testing.T, reader CardReader, cardTimeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		controller: &fakeController{sent: make(chan message.Message, 16)},
		bank:       &fakeBank{sent: make(chan message.Message, 16)},
		states:     make(chan conn.State, 4),
	}
	opts := Options{
		TerminalID:  "10000176",
		CardTimeout: cardTimeout,
		Controller:  h.controller,
		Bank:        h.bank,
		Logger:      quiet,
		Now:         func() time.Time { return fixedAt },
	}
	if reader != nil {
		opts.Reader = reader
	}
	h.term = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.term.Run(ctx, h.states)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		h.term.Cards().Close()
	})
	return h
}

func (h *harness) request(resp *message.Response) {
	h.states <- conn.State{Kind: conn.DataReceived, Response: resp}
}

func next(t *testing.T, ch <-chan message.Message) message.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no message sent")
		return nil
	}
}

func expectSale(t *testing.T, card *emv.CardData, amount float64) *emv.DE55 {
	t.Helper()
	de55, err := emv.BuildDE55(card, emv.Field55Request{
		Amount:          amount,
		Currency:        "VND",
		TransactionType: "SALE",
		TerminalID:      "10000176",
		Time:            fixedAt,
	})
	if err != nil {
		t.Fatalf("BuildDE55() error = %v", err)
	}
	return de55
}

func TestTerminalSale(t *testing.T) {
	card := visaCard()
	h := newHarness(t, &fakeReader{card: card}, time.Minute)

	h.request(&message.Response{TransactionType: "SALE", Amount: "150000", TransactionID: "T1", PcPosID: "PC1"})

	started := next(t, h.controller.sent)
	wantStarted := message.Started{TerminalID: "10000176", Amount: "150000.00", TransactionID: "T1", PcPosID: "PC1"}
	if diff := cmp.Diff(wantStarted, started); diff != "" {
		t.Errorf("Started mismatch (-want +got):\n%s", diff)
	}

	de55 := expectSale(t, card, 150000)
	doc, _ := de55.JSON()
	wantProcessing := message.Processing{
		TerminalID:      "10000176",
		TransactionType: "SALE",
		Amount:          "150000.00",
		TransactionID:   "T1",
		DE55:            doc,
		Field55:         de55.DE55,
	}
	if diff := cmp.Diff(wantProcessing, next(t, h.bank.sent)); diff != "" {
		t.Errorf("Processing mismatch (-want +got):\n%s", diff)
	}

	completed, ok := next(t, h.controller.sent).(message.Completed)
	if !ok {
		t.Fatal("expected Completed after the bank request")
	}
	if completed.TransactionID != "T1" || completed.Field55 != de55.DE55 || completed.EMVData != card {
		t.Errorf("Completed = %+v", completed)
	}

	sales := h.term.History().ActiveByType(Sale)
	if len(sales) != 1 || sales[0].Name != "Sale - VISA" || sales[0].Amount != "150000.00 VND" || sales[0].Card != card {
		t.Errorf("history = %+v", sales)
	}
}

func TestTerminalSaleWithoutServerAmount(t *testing.T) {
	card := visaCard()
	h := newHarness(t, nil, time.Minute)

	h.request(&message.Response{TransactionType: "sale"})
	next(t, h.controller.sent) // Started

	h.term.SetAmount(200)
	h.term.SelectTip(10)
	if got := h.term.TotalAmount(); got != 220 {
		t.Fatalf("TotalAmount() = %v, want 220", got)
	}
	if err := h.term.StartCardRead(context.Background()); err != nil {
		t.Fatalf("StartCardRead() error = %v", err)
	}
	if err := h.term.StartCardRead(context.Background()); !errors.Is(err, ErrAlreadyWaiting) {
		t.Errorf("second StartCardRead() error = %v, want ErrAlreadyWaiting", err)
	}
	if !h.term.OnCardRead(card) {
		t.Fatal("OnCardRead() = false while waiting")
	}
	if h.term.OnCardRead(card) {
		t.Error("duplicate OnCardRead() accepted")
	}

	got, ok := next(t, h.bank.sent).(message.Processing)
	if !ok {
		t.Fatal("expected Processing")
	}
	if got.Amount != "220.00" || got.Field55 != expectSale(t, card, 220).DE55 {
		t.Errorf("Processing = %+v", got)
	}
	if got.TransactionID == "" {
		t.Error("missing generated transaction id")
	}
	if _, ok := next(t, h.controller.sent).(message.Completed); !ok {
		t.Error("expected Completed")
	}
}

func TestTerminalCardFailures(t *testing.T) {
	tests := []struct {
		name    string
		reader  *fakeReader
		timeout time.Duration
		want    message.Message
	}{
		{
			name:    "Read error",
			reader:  &fakeReader{err: errors.New("tag lost")},
			timeout: time.Minute,
			want:    message.Failed{TerminalID: "10000176", Reason: "could not read card: tag lost"},
		},
		{
			name:    "Timeout",
			reader:  &fakeReader{},
			timeout: 30 * time.Millisecond,
			want:    message.Timeout{TerminalID: "10000176"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.reader, tt.timeout)
			h.request(&message.Response{TransactionType: "SALE", Amount: "10"})
			next(t, h.controller.sent) // Started

			if diff := cmp.Diff(tt.want, next(t, h.controller.sent)); diff != "" {
				t.Errorf("Mismatch (-want +got):\n%s", diff)
			}
			if n := len(h.term.History().All()); n != 0 {
				t.Errorf("history has %d entries, want 0", n)
			}
		})
	}
}

func TestTerminalBankUnavailable(t *testing.T) {
	h := newHarness(t, &fakeReader{card: visaCard()}, time.Minute)
	h.bank.err = conn.ErrUnavailable

	h.request(&message.Response{TransactionType: "SALE", Amount: "10"})
	next(t, h.controller.sent) // Started
	next(t, h.bank.sent)

	failed, ok := next(t, h.controller.sent).(message.Failed)
	if !ok || !strings.Contains(failed.Reason, "server unavailable") {
		t.Errorf("got %+v, want Failed with server unavailable", failed)
	}
	if n := len(h.term.History().All()); n != 0 {
		t.Errorf("history has %d entries, want 0", n)
	}
}

func TestTerminalPendingRequest(t *testing.T) {
	h := newHarness(t, nil, time.Minute)
	tip := 5.0
	h.term.HandleRequest(context.Background(), &message.Response{TransactionType: "VOID", Amount: "12.5", TipAmount: &tip})

	want := Request{Type: "VOID", Amount: 12.5, Tip: 5, Currency: "VND", TerminalID: "10000176"}
	if diff := cmp.Diff(want, h.term.Pending()); diff != "" {
		t.Errorf("Mismatch (-want +got):\n%s", diff)
	}
	select {
	case m := <-h.controller.sent:
		t.Errorf("non-SALE request sent %T", m)
	default:
	}
	if h.term.Cards().IsWaiting() {
		t.Error("non-SALE request started a card read")
	}
}

func TestTerminalVoidAndRefund(t *testing.T) {
	h := newHarness(t, nil, time.Minute)
	ctx := context.Background()
	card := visaCard()

	h.term.SetAmount(100)
	if err := h.term.StartCardRead(ctx); err != nil {
		t.Fatalf("StartCardRead() error = %v", err)
	}
	h.term.OnCardRead(card)
	next(t, h.bank.sent)
	next(t, h.controller.sent)
	sale := h.term.History().ByType(Sale)[0]

	void, err := h.term.Void(ctx, sale.ID)
	if err != nil {
		t.Fatalf("Void() error = %v", err)
	}
	req, ok := next(t, h.bank.sent).(message.Processing)
	if !ok {
		t.Fatal("expected Processing for VOID")
	}
	tags, err := emv.ParseField55(req.Field55)
	if err != nil {
		t.Fatalf("ParseField55() error = %v", err)
	}
	if req.TransactionType != "VOID" || req.TransactionID != sale.ID || req.Amount != "100.00" || tags.Value("9C") != "02" {
		t.Errorf("VOID request = %+v", req)
	}
	if void.Name != "Void - Sale - VISA" || void.Card != card {
		t.Errorf("void entry = %+v", void)
	}
	if got, _ := h.term.History().FindByID(sale.ID); !got.Voided {
		t.Error("original sale not flagged voided")
	}

	errTests := []struct {
		name string
		run  func() error
		want error
	}{
		{"Void twice", func() error { _, err := h.term.Void(ctx, sale.ID); return err }, ErrNotVoidable},
		{"Void a VOID", func() error { _, err := h.term.Void(ctx, void.ID); return err }, ErrNotVoidable},
		{"Refund a SALE", func() error { _, err := h.term.Refund(ctx, sale.ID); return err }, ErrNotVoidable},
		{"Unknown id", func() error { _, err := h.term.Void(ctx, "missing"); return err }, ErrNotFound},
		{"QR without card", func() error {
			qr := h.term.RecordQR(20, nil)
			_, err := h.term.Refund(ctx, qr.ID)
			return err
		}, ErrNoCardData},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	qr := h.term.RecordQR(30, card)
	refund, err := h.term.Refund(ctx, qr.ID)
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	req = next(t, h.bank.sent).(message.Processing)
	tags, _ = emv.ParseField55(req.Field55)
	if req.TransactionType != "REFUND" || tags.Value("9C") != "20" {
		t.Errorf("REFUND request = %+v", req)
	}
	if refund.Name != "Refund - QR Payment" || refund.Amount != "30.00 VND" {
		t.Errorf("refund entry = %+v", refund)
	}
}

func TestTerminalSettle(t *testing.T) {
	h := newHarness(t, nil, time.Minute)
	txns, stop := h.term.Transactions()
	defer stop()

	h.term.RecordQR(40, nil)
	h.term.RecordQR(60, nil)
	settlement, err := h.term.Settle(context.Background())
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}

	want := message.Processing{TerminalID: "10000176", TransactionType: "SETTLEMENT"}
	if diff := cmp.Diff(want, next(t, h.bank.sent)); diff != "" {
		t.Errorf("Mismatch (-want +got):\n%s", diff)
	}
	if settlement.Type != Settlement || settlement.Value != 100 {
		t.Errorf("settlement entry = %+v", settlement)
	}
	if n := len(h.term.History().All()); n != 3 {
		t.Errorf("history has %d entries after settlement, want 3", n)
	}
	if got := h.term.History().Total(); got != 100 {
		t.Errorf("Total() = %v, want 100", got)
	}

	var published []TxnType
	for len(published) < 3 {
		select {
		case tx := <-txns:
			published = append(published, tx.Type)
		case <-time.After(3 * time.Second):
			t.Fatalf("published %v", published)
		}
	}
	if diff := cmp.Diff([]TxnType{QR, QR, Settlement}, published); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}

	h.bank.err = conn.ErrUnavailable
	if _, err := h.term.Settle(context.Background()); !errors.Is(err, conn.ErrUnavailable) {
		t.Errorf("Settle() error = %v, want ErrUnavailable", err)
	}
}
