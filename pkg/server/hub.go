package server

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nicktill/campuspulse/pkg/config"
	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/metrics"
)

// client is one live chart connection. Only the connection's write loop
// reads from send.
type client struct {
	id    string
	chart string
	send  chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(chart string) *client {
	return &client{
		id:    uuid.NewString(),
		chart: chart,
		send:  make(chan []byte, config.WSSendBuffer),
		done:  make(chan struct{}),
	}
}

// enqueue queues msg for the write loop. When the queue is full the oldest
// message is dropped so a slow browser always ends up with the newest view.
func (c *client) enqueue(msg []byte) {
	for {
		select {
		case c.send <- msg:
			return
		case <-c.done:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

// close asks the connection to shut down.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub tracks live chart connections and fans out server-wide messages.
type Hub struct {
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewHub creates a hub. Serve must be running for registration to complete.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client, config.WSChannelBuffer),
		unregister: make(chan *client, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSChannelBuffer),
	}
}

// Serve runs the hub's main loop until ctx is cancelled, then closes every
// connection.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return ctx.Err()

		case c := <-h.register:
			select {
			case <-c.done:
				// unregistered before its registration was seen
				continue
			default:
			}
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(count))
			logging.Debug().Str("client", c.id).Str("chart", c.chart).Int("total", count).Msg("live client connected")

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				c.enqueue(msg)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		metrics.WebSocketClients.Set(float64(count))
		logging.Debug().Str("client", c.id).Int("total", count).Msg("live client disconnected")
	}
}

// Register adds c once the hub loop accepts it.
func (h *Hub) Register(ctx context.Context, c *client) error {
	select {
	case h.register <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes c. It never blocks: with the loop stopped or busy the
// client is removed directly.
func (h *Hub) Unregister(c *client) {
	select {
	case h.unregister <- c:
	default:
		h.remove(c)
	}
}

// Broadcast sends data to every connected client.
func (h *Hub) Broadcast(data any) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Msg("broadcast channel full, dropping message")
	}
	return nil
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients returns true if there are any connected clients.
func (h *Hub) HasClients() bool {
	return h.Count() > 0
}
