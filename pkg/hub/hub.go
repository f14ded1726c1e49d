package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Hub fans session events out to every connected dashboard client. A
// client that cannot keep up is disconnected rather than slowing the rest.
type Hub struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	running atomic.Bool
	dropped atomic.Int64
}

// New creates a hub. name only appears in log lines.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done, then closes every client.
// Call it in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.detachLocked(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "client", c.id, "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			h.detachLocked(c)
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "client", c.id, "clients", n)

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// fanOut queues msg on every client, detaching those whose buffer is full.
func (h *Hub) fanOut(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.detachLocked(c)
			h.logger.Warn("dropped slow client", "client", c.id)
		}
	}
}

// detachLocked forgets c and closes its send channel, which makes its
// write pump send a close frame. h.mu must be held.
func (h *Hub) detachLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues msg for every connected client. It never blocks; when
// the hub is backed up the message is dropped and counted.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		// Broadcast channel full - drop message
		h.dropped.Add(1)
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v any) error {
	msg, err := Encode(v)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were dropped.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
