package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gregLibert/smart-pos/internal/event"
	"github.com/gregLibert/smart-pos/pkg/message"
)

// BankOptions configures the bank-connector link.
type BankOptions struct {
	Addr           string
	ConnectTimeout time.Duration // 15s when zero
	ReadTimeout    time.Duration // 0 waits forever
	KeepAlive      time.Duration

	MaxAttempts int           // 3 when zero
	RetryDelay  time.Duration // 2s when zero

	Logger *slog.Logger
}

// Default bank retry policy.
const (
	DefaultBankAttempts   = 3
	DefaultBankRetryDelay = 2 * time.Second
)

// Bank is the bank-connector link. It connects on demand: Send reconnects
// a broken link, up to MaxAttempts attempts RetryDelay apart, before giving
// up with ErrUnavailable.
type Bank struct {
	opts      BankOptions
	link      link
	responses event.Feed[*message.Response]

	// connectMu serialises connection setup so overlapping callers share
	// one socket.
	connectMu sync.Mutex
}

// NewBank returns a disconnected Bank.
func NewBank(opts BankOptions) *Bank {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultBankAttempts
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultBankRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := &Bank{opts: opts}
	b.link.readTimeout = max(opts.ReadTimeout, 0)
	b.link.writeTimeout = DefaultWriteTimeout
	b.link.logger = opts.Logger.With("component", "bank", "addr", opts.Addr)
	b.link.feed.Publish(State{Kind: Disconnected})
	return b
}

// Subscribe streams every state transition from now on.
func (b *Bank) Subscribe() (<-chan State, func()) {
	return b.link.feed.Subscribe()
}

// Responses streams every line the bank connector sends back.
func (b *Bank) Responses() (<-chan *message.Response, func()) {
	return b.responses.Subscribe()
}

// State returns the latest state.
func (b *Bank) State() State {
	s, _ := b.link.feed.Last()
	return s
}

// IsConnected reports whether the socket is up.
func (b *Bank) IsConnected() bool {
	return b.link.connected()
}

// Connect makes a single connection attempt. It is a no-op when the link
// is already up.
func (b *Bank) Connect(ctx context.Context) error {
	b.connectMu.Lock()
	defer b.connectMu.Unlock()
	if b.link.connected() {
		return nil
	}

	b.link.publish(State{Kind: Connecting})
	conn, err := dial(ctx, b.opts.Addr, b.opts.ConnectTimeout, b.opts.KeepAlive)
	if err != nil {
		b.link.publish(State{Kind: Error, Message: fmt.Sprintf("Connection failed: %v", err)})
		return fmt.Errorf("connect bank connector: %w", err)
	}

	b.link.attach(conn)
	b.link.logger.Info("connected")
	b.link.publish(State{Kind: Connected})

	go func() {
		err := b.link.readLoop(context.Background(), conn, func(resp *message.Response) {
			b.responses.Publish(resp)
		})
		if b.link.detach(conn) {
			b.link.logger.Warn("link down", "error", err)
			b.link.publish(State{Kind: Error, Message: reason(err)})
		}
	}()
	return nil
}

// Send writes m, connecting first when needed. Failed attempts are
// retried RetryDelay apart; after MaxAttempts the error wraps
// ErrUnavailable.
func (b *Bank) Send(ctx context.Context, m message.Message) error {
	attempt := 0
	op := func() error {
		attempt++
		if err := b.Connect(ctx); err != nil {
			return err
		}
		return b.link.send(m)
	}
	notify := func(err error, next time.Duration) {
		b.link.logger.Warn("bank send failed", "attempt", attempt, "error", err, "retry_in", next)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.opts.RetryDelay), uint64(b.opts.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempt, err)
	}
	return nil
}

// Disconnect closes the link. It waits for a connection attempt in
// progress so that socket is closed too.
func (b *Bank) Disconnect() {
	b.connectMu.Lock()
	defer b.connectMu.Unlock()
	b.link.drop()
	b.link.publish(State{Kind: Disconnected})
}
