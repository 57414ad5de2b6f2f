package statusfeed

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregLibert/smart-pos/internal/cardread"
	"github.com/gregLibert/smart-pos/internal/conn"
	"github.com/gregLibert/smart-pos/pkg/message"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func readText(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubReplayAndBroadcast(t *testing.T) {
	h := NewHub(quiet)
	h.Broadcast(TypeControllerState, LinkState(conn.State{Kind: conn.Error, Message: "Server closed connection. Retrying in 5s...", RetryIn: 5 * time.Second}))
	h.Broadcast(TypeTransaction, map[string]string{"id": "not replayed"})

	srv := httptest.NewServer(h)
	defer srv.Close()
	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	tests := []struct {
		name string
		send func()
		want string
	}{
		{
			name: "Replayed controller state",
			send: func() {},
			want: `{"type":"controllerState","payload":{"state":"Error","message":"Server closed connection. Retrying in 5s...","retryInMs":5000}}`,
		},
		{
			name: "Card state",
			send: func() { h.Broadcast(TypeCardState, CardState(cardread.State{Kind: cardread.WaitingForCard})) },
			want: `{"type":"cardState","payload":{"state":"WaitingForCard"}}`,
		},
		{
			name: "Card error",
			send: func() {
				h.Broadcast(TypeCardState, CardState(cardread.State{Kind: cardread.Error, Message: "could not read card: PPSE selection failed"}))
			},
			want: `{"type":"cardState","payload":{"state":"Error","message":"could not read card: PPSE selection failed"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.send()
			if got := readText(t, c); got != tt.want {
				t.Errorf("got %s\nwant %s", got, tt.want)
			}
		})
	}

	c.Close()
	waitClients(t, h, 0)
}

func TestForward(t *testing.T) {
	h := NewHub(quiet)
	srv := httptest.NewServer(h)
	defer srv.Close()
	c := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitClients(t, h, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := make(chan conn.State, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Forward(ctx, h, TypeBankState, states, LinkState)
	}()

	states <- conn.State{Kind: conn.DataReceived, Response: &message.Response{TransactionType: "SALE", Status: "APPROVED"}}
	want := `{"type":"bankState","payload":{"state":"DataReceived","response":{"transactionType":"SALE","status":"APPROVED"}}}`
	if got := readText(t, c); got != want {
		t.Errorf("got %s\nwant %s", got, want)
	}

	close(states)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Forward did not return after the channel closed")
	}
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h := NewHub(quiet)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- serve(ctx, h, ln, ServerOptions{TerminalID: "10000176"}) }()

	c := dial(t, "ws://"+ln.Addr().String()+"/ws")
	waitClients(t, h, 1)

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("serve() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return")
	}

	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Error("client still open after shutdown")
	}
}
