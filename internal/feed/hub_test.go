package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"echomint-registry/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newIdleConn dials a throwaway WebSocket server that holds the connection
// open, returning a conn that is not registered on any hub.
func newIdleConn(t *testing.T) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial idle server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func feedEvent(seq uint64) *domain.Event {
	to := domain.Identity{0xB0}
	return &domain.Event{
		Kind: domain.EventTransfer,
		Seq:  seq,
		At:   1704067200000,
		Transfer: &domain.TransferEvent{
			From:    &domain.Identity{0xA1},
			To:      &to,
			TokenID: 0,
		},
	}
}

// waitForClients polls until the hub reports the wanted subscriber count.
func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
}

func TestHub_ConnectRegistersClient(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_PublishDelivers(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, 1)

	hub.Publish(feedEvent(7))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}

	if got.Kind != domain.EventTransfer {
		t.Errorf("expected kind %s, got %s", domain.EventTransfer, got.Kind)
	}
	if got.Seq != 7 {
		t.Errorf("expected seq 7, got %d", got.Seq)
	}
	if got.Transfer == nil || got.Transfer.TokenID != 0 {
		t.Errorf("unexpected transfer payload: %+v", got.Transfer)
	}
}

func TestHub_PublishMultipleSubscribers(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}

	waitForClients(t, hub, 3)

	hub.Publish(feedEvent(1))

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got domain.Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("subscriber %d read: %v", i, err)
		}
		if got.Seq != 1 {
			t.Errorf("subscriber %d: expected seq 1, got %d", i, got.Seq)
		}
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub(&Config{
		WriteTimeout: time.Second,
		PingInterval: time.Minute,
		SendBuffer:   1,
	}, nil)
	defer hub.Close()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, 1)

	// Register a second subscriber by hand with a send buffer that is
	// already full, so the next publish cannot enqueue and must drop it.
	// Its conn lives on a throwaway server so dropping it does not touch
	// the subscriber connected above.
	stuck := &client{
		conn: newIdleConn(t),
		send: make(chan *domain.Event, 1),
	}
	stuck.send <- feedEvent(1)
	hub.clientsMu.Lock()
	hub.clients[stuck] = struct{}{}
	hub.clientsMu.Unlock()

	hub.Publish(feedEvent(2))

	// Publish removes slow clients before returning
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("expected 1 client after drop, got %d", got)
	}
	hub.clientsMu.RLock()
	_, stillThere := hub.clients[stuck]
	hub.clientsMu.RUnlock()
	if stillThere {
		t.Error("slow client should have been dropped")
	}

	// The healthy subscriber still receives the event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Seq != 2 {
		t.Errorf("expected seq 2, got %d", got.Seq)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(nil, nil)

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForClients(t, hub, 1)

	if err := hub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after close, got %d", hub.ClientCount())
	}

	// Second close is a no-op
	if err := hub.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	// New connections are rejected after close
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail after close")
	}
	if resp != nil && resp.StatusCode != 503 {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
}

func TestHub_PublishAfterClose(t *testing.T) {
	hub := NewHub(nil, nil)
	if err := hub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Must not panic or block
	hub.Publish(feedEvent(1))
}
