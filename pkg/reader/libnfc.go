package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clausecker/nfc/v2"
)

// maxFrame is the largest answer libnfc hands back for one exchange.
const maxFrame = 262

var iso14443a = nfc.Modulation{Type: nfc.ISO14443a, BaudRate: nfc.Nbr106}

// LibNFC is an ISO 14443-A initiator driven through libnfc.
type LibNFC struct {
	logger *slog.Logger

	mu       sync.Mutex
	dev      nfc.Device
	selected bool
}

// OpenLibNFC opens the device described by connstring ("" picks the first
// device libnfc finds) and puts it in initiator mode.
func OpenLibNFC(connstring string, logger *slog.Logger) (*LibNFC, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dev, err := nfc.Open(connstring)
	if err != nil {
		return nil, fmt.Errorf("open nfc device: %w", err)
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("initiator init: %w", err)
	}
	logger.Info("using libnfc device", "device", dev.String(), "connection", dev.Connection())
	return &LibNFC{dev: dev, logger: logger.With("component", "libnfc")}, nil
}

// WaitForCard polls until an ISO 14443-4 capable target is selected.
func (l *LibNFC) WaitForCard(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		target, err := l.dev.InitiatorSelectPassiveTarget(iso14443a, nil)
		if err == nil && target != nil {
			if t, ok := target.(*nfc.ISO14443aTarget); ok && t.Sak&0x20 != 0 {
				l.selected = true
				l.mu.Unlock()
				l.logger.Debug("card selected", "uid", fmt.Sprintf("%X", t.UID[:t.UIDLen]))
				return nil
			}
			l.dev.InitiatorDeselectTarget()
		}
		l.mu.Unlock()

		if err != nil {
			l.logger.Debug("no target", "error", err)
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

// Transmit sends one raw APDU to the selected target.
func (l *LibNFC) Transmit(cmd []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.selected {
		return nil, ErrNoCard
	}
	var rx [maxFrame]byte
	n, err := l.dev.InitiatorTransceiveBytes(cmd, rx[:], 0)
	if err != nil {
		return nil, fmt.Errorf("transceive: %w", err)
	}
	return append([]byte(nil), rx[:n]...), nil
}

// Release deselects the current target.
func (l *LibNFC) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.selected {
		return nil
	}
	l.selected = false
	return l.dev.InitiatorDeselectTarget()
}

// Close releases the target and the device.
func (l *LibNFC) Close() error {
	return errors.Join(l.Release(), l.dev.Close())
}
