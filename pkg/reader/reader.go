// Package reader connects the APDU sequencer to physical contactless
// readers, through PC/SC or libnfc.
package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gregLibert/smart-pos/pkg/emv"
	"github.com/gregLibert/smart-pos/pkg/iso7816"
)

// ErrNoCard is returned by Transmit when no card is connected.
var ErrNoCard = errors.New("no card connected")

// pollInterval paces presence checks while waiting for a card.
const pollInterval = 250 * time.Millisecond

// Card is a reader slot able to wait for a card and talk to it.
type Card interface {
	iso7816.Transmitter
	// WaitForCard blocks until a card is present and connected.
	WaitForCard(ctx context.Context) error
	// Release disconnects the current card, leaving the reader open.
	Release() error
}

// EMVReader reads one EMV card per call with the APDU sequencer.
type EMVReader struct {
	Card    Card
	Options []emv.SequencerOption
}

// ReadCard waits for a card, runs the exchange and releases the card.
func (r *EMVReader) ReadCard(ctx context.Context) (*emv.CardData, error) {
	if err := r.Card.WaitForCard(ctx); err != nil {
		return nil, err
	}
	defer r.Card.Release()

	card, err := emv.NewSequencer(r.Card, r.Options...).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read card: %w", err)
	}
	return card, nil
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
