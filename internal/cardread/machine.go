// Package cardread guards the "waiting for card" flag so that at most one
// card read is in flight and stray reader callbacks cannot corrupt state.
package cardread

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gregLibert/smart-pos/internal/event"
	"github.com/gregLibert/smart-pos/pkg/emv"
)

// DefaultTimeout is how long a wait lasts before it times out.
const DefaultTimeout = 30 * time.Second

// Kind is the discriminant of State.
type Kind int

const (
	Idle Kind = iota
	WaitingForCard
	CardRead
	Error
	Timeout
)

var kindNames = map[Kind]string{
	Idle:           "Idle",
	WaitingForCard: "WaitingForCard",
	CardRead:       "CardRead",
	Error:          "Error",
	Timeout:        "Timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// State is the card-read state. Card is set for CardRead, Message for Error.
type State struct {
	Kind    Kind
	Card    *emv.CardData
	Message string
}

// Machine is the card-read state machine. All transitions run under one
// mutex and are published to subscribers in the order they happen.
type Machine struct {
	mu      sync.Mutex
	waiting bool
	state   State
	gen     uint64
	timer   *time.Timer
	timeout time.Duration

	feed   event.Feed[State]
	logger *slog.Logger
}

// New returns an idle Machine. A zero timeout disables the wall-clock
// timeout; a nil logger uses slog.Default.
func New(timeout time.Duration, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{timeout: timeout, logger: logger.With("component", "cardread")}
}

// StartWaiting moves Idle (or any finished state) to WaitingForCard and
// arms the timeout. It returns false, changing nothing, when a wait is
// already in progress.
func (m *Machine) StartWaiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.waiting {
		m.logger.Warn("already waiting for card")
		return false
	}
	m.waiting = true
	m.gen++
	if m.timeout > 0 {
		gen := m.gen
		m.timer = time.AfterFunc(m.timeout, func() { m.expire(gen) })
	}
	m.setLocked(State{Kind: WaitingForCard})
	return true
}

// OnCardRead completes the current wait with card.
func (m *Machine) OnCardRead(card *emv.CardData) bool {
	return m.finish("card read", State{Kind: CardRead, Card: card})
}

// OnError completes the current wait with an error message.
func (m *Machine) OnError(msg string) bool {
	return m.finish("card error", State{Kind: Error, Message: msg})
}

// OnTimeout completes the current wait as timed out.
func (m *Machine) OnTimeout() bool {
	return m.finish("card timeout", State{Kind: Timeout})
}

// StopWaiting abandons the current wait and returns to Idle. It reports
// false when nothing was waiting.
func (m *Machine) StopWaiting() bool {
	return m.finish("stop waiting", State{Kind: Idle})
}

// Reset returns to Idle whatever the current state, dropping any card.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting = false
	m.stopTimerLocked()
	m.setLocked(State{Kind: Idle})
}

// IsWaiting reports whether a wait is in progress.
func (m *Machine) IsWaiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Card returns the card of the last successful read, if the machine is
// still in CardRead.
func (m *Machine) Card() *emv.CardData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Card
}

// Subscribe streams every transition from now on.
func (m *Machine) Subscribe() (<-chan State, func()) {
	return m.feed.Subscribe()
}

// Close ends every subscription and disarms the timeout.
func (m *Machine) Close() {
	m.mu.Lock()
	m.stopTimerLocked()
	m.mu.Unlock()
	m.feed.Close()
}

func (m *Machine) finish(what string, next State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.waiting {
		m.logger.Info("ignoring event: not waiting for card", "event", what)
		return false
	}
	m.waiting = false
	m.stopTimerLocked()
	m.setLocked(next)
	return true
}

// expire fires the timeout of wait gen. A timer left over from an earlier
// wait finds a newer generation and does nothing.
func (m *Machine) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.waiting || m.gen != gen {
		return
	}
	m.logger.Info("card read timed out", "after", m.timeout)
	m.waiting = false
	m.timer = nil
	m.setLocked(State{Kind: Timeout})
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) setLocked(s State) {
	m.state = s
	m.feed.Publish(s)
	m.logger.Debug("card state", "state", s.Kind)
}
