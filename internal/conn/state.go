// Package conn keeps the two TCP links of the terminal alive: the
// terminal-controller link, which reconnects forever with exponential
// backoff, and the bank-connector link, which retries a bounded number of
// times per send.
package conn

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gregLibert/smart-pos/pkg/message"
)

var (
	// ErrNotConnected is returned by a send on a link that is down.
	ErrNotConnected = errors.New("not connected")
	// ErrUnavailable is returned when the bank connector could not be
	// reached within the allowed attempts.
	ErrUnavailable = errors.New("server unavailable")
)

// Kind is the discriminant of State.
type Kind int

const (
	Idle Kind = iota
	Disconnected
	Connecting
	Connected
	DataReceived
	Error
)

var kindNames = map[Kind]string{
	Idle:         "Idle",
	Disconnected: "Disconnected",
	Connecting:   "Connecting",
	Connected:    "Connected",
	DataReceived: "DataReceived",
	Error:        "Error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// State is one link transition. Response is set for DataReceived, Message
// for Error. RetryIn is the delay before the next attempt when the Error
// leads to a reconnect.
type State struct {
	Kind     Kind
	Response *message.Response
	Message  string
	RetryIn  time.Duration
}

// LogValue implements slog.LogValuer.
func (s State) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("kind", s.Kind.String())}
	if s.Message != "" {
		attrs = append(attrs, slog.String("message", s.Message))
	}
	if s.RetryIn > 0 {
		attrs = append(attrs, slog.Duration("retry_in", s.RetryIn))
	}
	if s.Response != nil {
		attrs = append(attrs,
			slog.String("transaction_type", s.Response.TransactionType),
			slog.String("transaction_id", s.Response.TransactionID))
	}
	return slog.GroupValue(attrs...)
}
