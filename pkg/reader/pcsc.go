package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ebfe/scard"
)

// PCSC is a contactless slot reached through the PC/SC daemon.
type PCSC struct {
	ctx    *scard.Context
	name   string
	logger *slog.Logger

	mu   sync.Mutex
	card *scard.Card
}

// OpenPCSC establishes a PC/SC context and picks the first reader whose
// name contains match, or the first reader when match is empty.
func OpenPCSC(match string, logger *slog.Logger) (*PCSC, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish PC/SC context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("list readers: %w", err)
	}
	for _, name := range readers {
		if match == "" || strings.Contains(name, match) {
			logger.Info("using PC/SC reader", "reader", name)
			return &PCSC{ctx: ctx, name: name, logger: logger.With("component", "pcsc")}, nil
		}
	}
	ctx.Release()
	if match != "" {
		return nil, fmt.Errorf("no PC/SC reader matching %q among %v", match, readers)
	}
	return nil, errors.New("no PC/SC reader found")
}

// Name returns the reader in use.
func (p *PCSC) Name() string { return p.name }

// WaitForCard blocks until a card is present, then connects to it with
// T=0 or T=1.
func (p *PCSC) WaitForCard(ctx context.Context) error {
	states := []scard.ReaderState{{Reader: p.name, CurrentState: scard.StateUnaware}}
	for {
		err := p.ctx.GetStatusChange(states, pollInterval)
		switch {
		case err == nil, errors.Is(err, scard.ErrTimeout):
		case errors.Is(err, scard.ErrCancelled):
			return context.Canceled
		default:
			return fmt.Errorf("reader status: %w", err)
		}
		if states[0].EventState&scard.StatePresent != 0 {
			break
		}
		states[0].CurrentState = states[0].EventState &^ scard.StateChanged
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	// Forcing T=0 or T=1 avoids "Parameter Incorrect" on some readers.
	card, err := p.ctx.Connect(p.name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		return fmt.Errorf("connect card: %w", err)
	}
	p.mu.Lock()
	p.card = card
	p.mu.Unlock()
	p.logger.Debug("card connected")
	return nil
}

// Transmit sends one raw APDU to the connected card.
func (p *PCSC) Transmit(cmd []byte) ([]byte, error) {
	p.mu.Lock()
	card := p.card
	p.mu.Unlock()
	if card == nil {
		return nil, ErrNoCard
	}
	return card.Transmit(cmd)
}

// Release disconnects the card and leaves it powered.
func (p *PCSC) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.card == nil {
		return nil
	}
	err := p.card.Disconnect(scard.LeaveCard)
	p.card = nil
	return err
}

// Close releases the card and the PC/SC context.
func (p *PCSC) Close() error {
	return errors.Join(p.Release(), p.ctx.Release())
}
