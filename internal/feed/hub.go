// Package feed broadcasts archived registry events to WebSocket subscribers.
package feed

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"echomint-registry/internal/domain"
	"echomint-registry/internal/observability"
)

// Config configures live feed behavior.
type Config struct {
	// WriteTimeout is timeout for writing messages to a subscriber.
	WriteTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// SendBuffer is the per-subscriber outgoing event buffer. Subscribers
	// that fall this far behind are disconnected.
	SendBuffer int
}

// DefaultConfig returns default live feed configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		SendBuffer:   256,
	}
}

// Hub fans archived events out to connected WebSocket subscribers.
// Publishing never blocks the caller: subscribers that cannot keep up
// are dropped.
type Hub struct {
	config   Config
	logger   *log.Logger
	upgrader websocket.Upgrader

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// client is one connected feed subscriber.
type client struct {
	conn      *websocket.Conn
	send      chan *domain.Event
	closeOnce sync.Once
}

// NewHub creates a new feed hub.
func NewHub(config *Config, logger *log.Logger) *Hub {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Hub{
		config: cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// Handler returns an HTTP handler that upgrades requests to feed connections.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.closed.Load() {
			http.Error(w, "feed closed", http.StatusServiceUnavailable)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote an HTTP error response
			h.logger.Printf("Feed upgrade failed: %v", err)
			return
		}

		c := &client{
			conn: conn,
			send: make(chan *domain.Event, h.config.SendBuffer),
		}

		h.clientsMu.Lock()
		h.clients[c] = struct{}{}
		h.clientsMu.Unlock()
		observability.SetFeedClients(h.ClientCount())

		h.wg.Add(2)
		go h.writePump(c)
		go h.readPump(c)
	})
}

// Publish fans one event out to every connected subscriber.
func (h *Hub) Publish(e *domain.Event) {
	if h.closed.Load() {
		return
	}

	var slow []*client
	h.clientsMu.RLock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			slow = append(slow, c)
		}
	}
	h.clientsMu.RUnlock()

	for _, c := range slow {
		h.logger.Printf("Dropping feed client: send buffer full (%d events behind)", h.config.SendBuffer)
		observability.RecordFeedClientDropped()
		h.removeClient(c)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects all subscribers and stops accepting new ones.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil // Already closed
	}

	close(h.done)

	h.clientsMu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.Unlock()

	for _, c := range clients {
		h.removeClient(c)
	}

	h.wg.Wait()
	return nil
}

// removeClient unregisters a subscriber and closes its connection.
// Safe to call more than once for the same client.
func (h *Hub) removeClient(c *client) {
	h.clientsMu.Lock()
	_, registered := h.clients[c]
	if registered {
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
	})
	c.conn.Close()

	if registered {
		observability.SetFeedClients(h.ClientCount())
	}
}

// writePump writes queued events and periodic pings to one subscriber.
func (h *Hub) writePump(c *client) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		h.removeClient(c)
	}()

	for {
		select {
		case e, ok := <-c.send:
			if !ok {
				// Hub dropped this subscriber
				c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}
			observability.RecordFeedSent(1)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-h.done:
			return
		}
	}
}

// readPump discards inbound messages and detects subscriber disconnect.
func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer h.removeClient(c)

	c.conn.SetReadLimit(512)
	readWait := 2 * h.config.PingInterval
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
