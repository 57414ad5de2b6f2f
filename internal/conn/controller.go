package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gregLibert/smart-pos/pkg/message"
)

// ControllerOptions configures the terminal-controller link.
type ControllerOptions struct {
	Addr       string
	TerminalID string

	ConnectTimeout time.Duration // 15s when zero
	ReadTimeout    time.Duration // 30s when zero; negative disables
	KeepAlive      time.Duration // TCP keep-alive period

	InitialBackoff time.Duration // 5s when zero
	MaxBackoff     time.Duration // 60s when zero

	// HeartbeatInterval sends a Heartbeat message while connected. Zero
	// disables it.
	HeartbeatInterval time.Duration

	Logger *slog.Logger
}

// Default timings.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultInitialBackoff = 5 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

// Controller is the terminal-controller link. Run connects, announces the
// terminal with an Init message and reads requests until the link breaks,
// then waits out an exponential backoff and starts over.
type Controller struct {
	opts ControllerOptions
	link link

	runMu   sync.Mutex
	running bool
}

// NewController returns an idle Controller.
func NewController(opts ControllerOptions) *Controller {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{opts: opts}
	c.link.readTimeout = max(opts.ReadTimeout, 0)
	c.link.writeTimeout = DefaultWriteTimeout
	c.link.logger = opts.Logger.With("component", "controller", "addr", opts.Addr)
	c.link.feed.Publish(State{Kind: Idle})
	return c
}

// Subscribe streams every state transition from now on.
func (c *Controller) Subscribe() (<-chan State, func()) {
	return c.link.feed.Subscribe()
}

// State returns the latest state.
func (c *Controller) State() State {
	s, _ := c.link.feed.Last()
	return s
}

// IsConnected reports whether the socket is up.
func (c *Controller) IsConnected() bool {
	return c.link.connected()
}

// Send writes m to the controller. It returns ErrNotConnected while the
// link is down.
func (c *Controller) Send(m message.Message) error {
	return c.link.send(m)
}

// newBackoff returns the reconnect schedule: InitialBackoff doubling up to
// MaxBackoff, without jitter and without an overall deadline.
func (c *Controller) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run keeps the link up until ctx is cancelled. It returns ctx.Err(), or
// an error if Run is already active.
func (c *Controller) Run(ctx context.Context) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return fmt.Errorf("controller link already running")
	}
	c.running = true
	c.runMu.Unlock()

	defer func() {
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
		c.link.publish(State{Kind: Idle})
	}()

	b := c.newBackoff()
	for {
		c.link.publish(State{Kind: Connecting})
		err := c.session(ctx, b)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.NextBackOff().Truncate(time.Millisecond)
		c.link.logger.Warn("link down", "error", err, "retry_in", delay)
		c.link.publish(State{
			Kind:    Error,
			Message: fmt.Sprintf("%s. Retrying in %ds...", reason(err), int(delay.Seconds())),
			RetryIn: delay,
		})

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// session runs one connection from dial to failure. The socket is closed
// on every return path.
func (c *Controller) session(ctx context.Context, b backoff.BackOff) error {
	conn, err := dial(ctx, c.opts.Addr, c.opts.ConnectTimeout, c.opts.KeepAlive)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.link.attach(conn)
	defer c.link.detach(conn)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	b.Reset()
	c.link.logger.Info("connected")
	c.link.publish(State{Kind: Connected})

	if err := c.link.send(message.Init{TerminalID: c.opts.TerminalID}); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	if c.opts.HeartbeatInterval > 0 {
		go c.heartbeat(done)
	}

	return c.link.readLoop(ctx, conn, func(resp *message.Response) {
		c.link.publish(State{Kind: DataReceived, Response: resp})
	})
}

func (c *Controller) heartbeat(done <-chan struct{}) {
	t := time.NewTicker(c.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := c.link.send(message.Heartbeat{TerminalID: c.opts.TerminalID}); err != nil {
				c.link.logger.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}
