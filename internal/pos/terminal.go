// Package pos ties the links, the card reader and the card-read state
// machine into the payment flow of one terminal.
package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gregLibert/smart-pos/internal/cardread"
	"github.com/gregLibert/smart-pos/internal/conn"
	"github.com/gregLibert/smart-pos/internal/event"
	"github.com/gregLibert/smart-pos/pkg/emv"
	"github.com/gregLibert/smart-pos/pkg/message"
)

var (
	// ErrAlreadyWaiting is returned when a card read is already in progress.
	ErrAlreadyWaiting = errors.New("already waiting for card")
	// ErrNotVoidable is returned for entries that cannot be voided or refunded.
	ErrNotVoidable = errors.New("transaction cannot be reversed")
	// ErrNoCardData is returned when an entry kept no card to rebuild Field 55.
	ErrNoCardData = errors.New("no card data")
	// ErrNotFound is returned for an unknown transaction id.
	ErrNotFound = errors.New("transaction not found")
)

// ControllerLink is the terminal-controller side of the flow.
type ControllerLink interface {
	Send(m message.Message) error
}

// BankLink is the bank-connector side of the flow.
type BankLink interface {
	Send(ctx context.Context, m message.Message) error
}

// CardReader blocks until a card is presented and read, or ctx ends.
type CardReader interface {
	ReadCard(ctx context.Context) (*emv.CardData, error)
}

// Options configures a Terminal.
type Options struct {
	TerminalID  string
	CardTimeout time.Duration // cardread.DefaultTimeout when zero
	Controller  ControllerLink
	Bank        BankLink
	Reader      CardReader // nil when cards are pushed through OnCardRead
	Logger      *slog.Logger
	Now         func() time.Time
}

// Request is the transaction the controller asked for.
type Request struct {
	Type          string
	Amount        float64
	TransactionID string
	Tip           float64
	Currency      string
	TerminalID    string
	PcPosID       string
}

// Terminal runs the payment flow: it turns controller requests into card
// reads, card reads into bank requests, and keeps the history.
type Terminal struct {
	opts    Options
	machine *cardread.Machine
	history *History
	txns    event.Feed[Transaction]
	logger  *slog.Logger

	mu      sync.Mutex
	pending Request
	amount  float64
	tip     int
	cancel  context.CancelFunc
}

// New returns a Terminal. The controller and bank links are required.
func New(opts Options) *Terminal {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CardTimeout == 0 {
		opts.CardTimeout = cardread.DefaultTimeout
	}
	return &Terminal{
		opts:    opts,
		machine: cardread.New(opts.CardTimeout, opts.Logger),
		history: NewHistory(opts.Now),
		logger:  opts.Logger.With("component", "pos"),
		pending: Request{Type: string(Sale), Currency: message.DefaultCurrency, TerminalID: opts.TerminalID},
	}
}

// Cards exposes the card-read state machine.
func (t *Terminal) Cards() *cardread.Machine { return t.machine }

// History exposes the transaction history.
func (t *Terminal) History() *History { return t.history }

// Transactions streams every history entry appended from now on.
func (t *Terminal) Transactions() (<-chan Transaction, func()) {
	return t.txns.Subscribe()
}

// Pending returns the request being served.
func (t *Terminal) Pending() Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Run serves controller requests arriving on states and completes card
// reads until ctx is cancelled.
func (t *Terminal) Run(ctx context.Context, states <-chan conn.State) error {
	cards, unsubscribe := t.machine.Subscribe()
	defer unsubscribe()
	defer t.stopReader()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if s.Kind == conn.DataReceived && s.Response != nil {
				t.HandleRequest(ctx, s.Response)
			}
		case s, ok := <-cards:
			if !ok {
				return nil
			}
			t.onCardState(ctx, s)
		}
	}
}

// HandleRequest records resp as the pending request. A SALE starts the card
// read straight away when a reader is configured.
func (t *Terminal) HandleRequest(ctx context.Context, resp *message.Response) {
	t.stopReader()
	t.machine.Reset()

	req := Request{
		Type:          strings.ToUpper(resp.TransactionType),
		TransactionID: resp.TransactionID,
		Currency:      resp.Currency,
		TerminalID:    resp.TerminalID,
		PcPosID:       resp.PcPosID,
	}
	if amount, err := strconv.ParseFloat(resp.Amount, 64); err == nil {
		req.Amount = amount
	}
	if resp.TipAmount != nil {
		req.Tip = *resp.TipAmount
	}
	if req.Currency == "" {
		req.Currency = message.DefaultCurrency
	}
	if req.TerminalID == "" {
		req.TerminalID = t.opts.TerminalID
	}

	t.mu.Lock()
	t.pending = req
	t.amount = req.Amount
	t.tip = 0
	t.mu.Unlock()

	t.logger.Info("transaction request", "type", req.Type, "amount", req.Amount, "transaction_id", req.TransactionID)

	if req.Type != string(Sale) {
		return
	}
	if err := t.SendStarted(); err != nil {
		t.logger.Warn("could not send STARTED", "error", err)
	}
	if t.opts.Reader == nil {
		return
	}
	if err := t.StartCardRead(ctx); err != nil {
		t.logger.Warn("could not start card read", "error", err)
	}
}

// SetAmount sets the base amount of the next sale.
func (t *Terminal) SetAmount(amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.amount = amount
}

// SelectTip sets the tip as a percentage of the base amount.
func (t *Terminal) SelectTip(percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tip = percent
}

// TotalAmount is the base amount plus the selected tip.
func (t *Terminal) TotalAmount() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked()
}

func (t *Terminal) totalLocked() float64 {
	return t.amount + t.amount*float64(t.tip)/100
}

// SendStarted tells the controller the sale is in progress.
func (t *Terminal) SendStarted() error {
	t.mu.Lock()
	m := message.Started{
		TerminalID:    t.opts.TerminalID,
		Amount:        fmt.Sprintf("%.2f", t.totalLocked()),
		TransactionID: t.pending.TransactionID,
		PcPosID:       t.pending.PcPosID,
	}
	t.mu.Unlock()
	return t.opts.Controller.Send(m)
}

// StartCardRead arms the card-read state machine and, with a reader
// configured, reads the card in the background.
func (t *Terminal) StartCardRead(ctx context.Context) error {
	if !t.machine.StartWaiting() {
		return ErrAlreadyWaiting
	}
	if t.opts.Reader == nil {
		return nil
	}

	readCtx, cancel := context.WithTimeout(ctx, t.opts.CardTimeout)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go func() {
		defer cancel()
		card, err := t.opts.Reader.ReadCard(readCtx)
		switch {
		case err == nil:
			t.OnCardRead(card)
		case readCtx.Err() != nil:
			// The state machine reports timeouts and resets on its own.
		default:
			t.OnCardError(err.Error())
		}
	}()
	return nil
}

func (t *Terminal) stopReader() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// OnCardRead delivers a card read by a push-style reader.
func (t *Terminal) OnCardRead(card *emv.CardData) bool {
	return t.machine.OnCardRead(card)
}

// OnCardError reports a failed read.
func (t *Terminal) OnCardError(msg string) bool {
	return t.machine.OnError("could not read card: " + msg)
}

func (t *Terminal) onCardState(ctx context.Context, s cardread.State) {
	switch s.Kind {
	case cardread.CardRead:
		if err := t.completeSale(ctx, s.Card); err != nil {
			t.logger.Error("sale failed", "error", err)
			t.sendController(message.Failed{TerminalID: t.opts.TerminalID, Reason: err.Error()})
		}
	case cardread.Error:
		t.sendController(message.Failed{TerminalID: t.opts.TerminalID, Reason: s.Message})
	case cardread.Timeout:
		t.stopReader()
		t.sendController(message.Timeout{TerminalID: t.opts.TerminalID})
	}
}

func (t *Terminal) completeSale(ctx context.Context, card *emv.CardData) error {
	t.mu.Lock()
	req := t.pending
	total := t.totalLocked()
	t.mu.Unlock()

	if card == nil {
		return ErrNoCardData
	}
	txnID := req.TransactionID
	if txnID == "" {
		txnID = uuid.NewString()
	}
	amount := req.Amount
	if amount <= 0 {
		amount = total
	}
	de55, doc, err := t.buildDE55(card, emv.Field55Request{
		Amount:          amount,
		Tip:             req.Tip,
		Currency:        req.Currency,
		TransactionType: req.Type,
		TerminalID:      req.TerminalID,
	})
	if err != nil {
		return err
	}

	err = t.opts.Bank.Send(ctx, message.Processing{
		TerminalID:      t.opts.TerminalID,
		TransactionType: string(Sale),
		Amount:          fmt.Sprintf("%.2f", total),
		TransactionID:   txnID,
		DE55:            doc,
		Field55:         de55.DE55,
	})
	if err != nil {
		return fmt.Errorf("send to bank: %w", err)
	}

	t.record(Transaction{
		Type:  Sale,
		Name:  "Sale - " + card.Scheme(),
		Value: total,
		Card:  card,
	})
	t.sendController(message.Completed{
		TerminalID:    t.opts.TerminalID,
		TransactionID: txnID,
		EMVData:       card,
		Field55:       de55.DE55,
	})
	return nil
}

// Void reverses a card sale.
func (t *Terminal) Void(ctx context.Context, id string) (Transaction, error) {
	return t.reverse(ctx, id, Sale, Void)
}

// Refund reverses a QR payment.
func (t *Terminal) Refund(ctx context.Context, id string) (Transaction, error) {
	return t.reverse(ctx, id, QR, Refund)
}

func (t *Terminal) reverse(ctx context.Context, id string, from, to TxnType) (Transaction, error) {
	orig, ok := t.history.FindByID(id)
	if !ok {
		return Transaction{}, fmt.Errorf("%s %s: %w", strings.ToLower(string(to)), id, ErrNotFound)
	}
	if orig.Type != from || orig.Voided {
		return Transaction{}, fmt.Errorf("%s %s (%s): %w", strings.ToLower(string(to)), id, orig.Type, ErrNotVoidable)
	}
	if orig.Card == nil {
		return Transaction{}, fmt.Errorf("%s %s: %w", strings.ToLower(string(to)), id, ErrNoCardData)
	}

	de55, doc, err := t.buildDE55(orig.Card, emv.Field55Request{
		Amount:          orig.Value,
		Currency:        message.DefaultCurrency,
		TransactionType: string(to),
		TerminalID:      t.requestTerminalID(),
	})
	if err != nil {
		return Transaction{}, err
	}
	err = t.opts.Bank.Send(ctx, message.Processing{
		TerminalID:      t.opts.TerminalID,
		TransactionType: string(to),
		Amount:          fmt.Sprintf("%.2f", orig.Value),
		TransactionID:   orig.ID,
		DE55:            doc,
		Field55:         de55.DE55,
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("send to bank: %w", err)
	}

	t.history.MarkVoided(orig.ID)
	name := "Void - "
	if to == Refund {
		name = "Refund - "
	}
	return t.record(Transaction{
		Type:   to,
		Name:   name + orig.Name,
		Amount: orig.Amount,
		Value:  orig.Value,
		Card:   orig.Card,
	}), nil
}

// RecordQR adds a QR payment to the history. card may be nil; without it
// the payment cannot be refunded.
func (t *Terminal) RecordQR(amount float64, card *emv.CardData) Transaction {
	return t.record(Transaction{Type: QR, Name: "QR Payment", Value: amount, Card: card})
}

// Settle asks the bank connector to settle the batch and records it.
func (t *Terminal) Settle(ctx context.Context) (Transaction, error) {
	err := t.opts.Bank.Send(ctx, message.Processing{
		TerminalID:      t.opts.TerminalID,
		TransactionType: string(Settlement),
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("settlement: %w", err)
	}
	return t.record(Transaction{Type: Settlement, Name: "Settlement", Value: t.history.Total()}), nil
}

func (t *Terminal) buildDE55(card *emv.CardData, req emv.Field55Request) (*emv.DE55, string, error) {
	req.Time = t.opts.Now()
	de55, err := emv.BuildDE55(card, req)
	if err != nil {
		return nil, "", fmt.Errorf("field 55: %w", err)
	}
	doc, err := de55.JSON()
	if err != nil {
		return nil, "", fmt.Errorf("field 55: %w", err)
	}
	return de55, doc, nil
}

func (t *Terminal) requestTerminalID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending.TerminalID != "" {
		return t.pending.TerminalID
	}
	return t.opts.TerminalID
}

func (t *Terminal) record(tx Transaction) Transaction {
	tx = t.history.Append(tx)
	t.txns.Publish(tx)
	t.logger.Info("transaction recorded", "id", tx.ID, "type", tx.Type, "amount", tx.Amount)
	return tx
}

func (t *Terminal) sendController(m message.Message) {
	if err := t.opts.Controller.Send(m); err != nil {
		t.logger.Warn("could not notify controller", "message", fmt.Sprintf("%T", m), "error", err)
	}
}
