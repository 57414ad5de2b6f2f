package conn

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gregLibert/smart-pos/internal/event"
	"github.com/gregLibert/smart-pos/pkg/message"
)

var (
	errServerClosed = errors.New("server closed connection")
	errReadTimeout  = errors.New("timeout while waiting for data")
)

// reason turns the end of a session into the text shown to the operator.
func reason(err error) string {
	switch {
	case errors.Is(err, errServerClosed):
		return "Server closed connection"
	case errors.Is(err, errReadTimeout):
		return "Timeout while waiting for data"
	}
	return err.Error()
}

// link owns one socket and its buffered writer. Writes are serialised by
// mu, so two senders never interleave partial lines.
type link struct {
	mu   sync.Mutex
	conn net.Conn
	w    *bufio.Writer

	readTimeout  time.Duration
	writeTimeout time.Duration
	feed         event.Feed[State]
	logger       *slog.Logger
}

func (l *link) publish(s State) {
	l.logger.Debug("link state", "state", s)
	l.feed.Publish(s)
}

func (l *link) attach(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = c
	l.w = bufio.NewWriter(c)
}

// detach closes c and forgets it if it is still the current socket. It
// reports whether c was current.
func (l *link) detach(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = c.Close()
	if l.conn != c {
		return false
	}
	l.conn, l.w = nil, nil
	return true
}

// drop closes and forgets the current socket, if any.
func (l *link) drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return false
	}
	_ = l.conn.Close()
	l.conn, l.w = nil, nil
	return true
}

func (l *link) connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// send writes m as one line and flushes. A failed write closes the socket
// so the read loop notices and the link recovers.
func (l *link) send(m message.Message) error {
	data, err := message.Encode(m)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	if l.writeTimeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
			_ = l.conn.Close()
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := l.w.Write(data); err != nil {
		_ = l.conn.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		_ = l.conn.Close()
		return fmt.Errorf("flush: %w", err)
	}
	l.logger.Debug("sent", "msg_type", fmt.Sprintf("%T", m))
	return nil
}

// readLoop reads lines from c until it fails. Malformed lines publish an
// Error state and keep the socket. The returned error says why the loop
// ended.
func (l *link) readLoop(ctx context.Context, c net.Conn, onResponse func(*message.Response)) error {
	r := bufio.NewReader(c)
	for {
		if l.readTimeout > 0 {
			if err := c.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
				return fmt.Errorf("set read deadline: %w", err)
			}
		}

		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			l.handleLine(line, onResponse)
		}
		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr net.Error
		switch {
		case errors.Is(err, io.EOF):
			return errServerClosed
		case errors.As(err, &netErr) && netErr.Timeout():
			return errReadTimeout
		default:
			return fmt.Errorf("failed when receiving data: %w", err)
		}
	}
}

func (l *link) handleLine(line []byte, onResponse func(*message.Response)) {
	resp, err := message.ParseResponse(line)
	if err != nil {
		l.logger.Warn("invalid data", "error", err)
		l.publish(State{Kind: Error, Message: "Invalid data: " + err.Error()})
		return
	}
	l.logger.Info("received", "transaction_type", resp.TransactionType, "transaction_id", resp.TransactionID)
	if onResponse != nil {
		onResponse(resp)
	}
}

// dial opens a TCP connection with a connect timeout and TCP keep-alive.
func dial(ctx context.Context, addr string, timeout, keepAlive time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: keepAlive}
	return d.DialContext(ctx, "tcp", addr)
}
