// Package statusfeed broadcasts the terminal's link, card and transaction
// events to WebSocket clients such as the operator UI.
package statusfeed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregLibert/smart-pos/internal/cardread"
	"github.com/gregLibert/smart-pos/internal/conn"
	"github.com/gregLibert/smart-pos/pkg/message"
)

// Event types.
const (
	TypeControllerState = "controllerState"
	TypeBankState       = "bankState"
	TypeCardState       = "cardState"
	TypeTransaction     = "transaction"
)

// replayed in this order to a client that just connected
var replayOrder = []string{TypeControllerState, TypeBankState, TypeCardState}

const writeTimeout = 5 * time.Second

// Message is one event sent to clients.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub keeps the connected clients and the last state of each link.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	last    map[string]Message
}

// NewHub returns a Hub accepting connections from any origin.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.With("component", "statusfeed"),
		clients: make(map[*websocket.Conn]bool),
		last:    make(map[string]Message),
	}
}

// ServeHTTP upgrades the request, replays the last known states and keeps
// the client registered until it goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.logger.Info("client connected", "remote", r.RemoteAddr)

	h.mu.Lock()
	for _, typ := range replayOrder {
		if m, ok := h.last[typ]; ok {
			if err := h.write(c, m); err != nil {
				h.mu.Unlock()
				c.Close()
				return
			}
		}
	}
	h.clients[c] = true
	h.mu.Unlock()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
	h.logger.Info("client disconnected", "remote", r.RemoteAddr)
}

// Broadcast sends an event to every client. Link and card states are also
// kept for replay.
func (h *Hub) Broadcast(typ string, payload any) {
	m := Message{Type: typ, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	if typ != TypeTransaction {
		h.last[typ] = m
	}
	for c := range h.clients {
		if err := h.write(c, m); err != nil {
			h.logger.Warn("websocket write failed", "error", err)
			c.Close()
			delete(h.clients, c)
		}
	}
}

func (h *Hub) write(c *websocket.Conn, m Message) error {
	c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.WriteJSON(m)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}

// Forward broadcasts every value received on ch as typ until ch is closed
// or ctx ends.
func Forward[T any](ctx context.Context, h *Hub, typ string, ch <-chan T, payload func(T) any) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(typ, payload(v))
		}
	}
}

// LinkPayload is the payload of controllerState and bankState events.
type LinkPayload struct {
	State     string            `json:"state"`
	Message   string            `json:"message,omitempty"`
	RetryInMs int64             `json:"retryInMs,omitempty"`
	Response  *message.Response `json:"response,omitempty"`
}

func LinkState(s conn.State) any {
	return LinkPayload{
		State:     s.Kind.String(),
		Message:   s.Message,
		RetryInMs: s.RetryIn.Milliseconds(),
		Response:  s.Response,
	}
}

// CardPayload is the payload of cardState events.
type CardPayload struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
	Card    any    `json:"card,omitempty"`
}

func CardState(s cardread.State) any {
	p := CardPayload{State: s.Kind.String(), Message: s.Message}
	if s.Card != nil {
		p.Card = s.Card
	}
	return p
}
