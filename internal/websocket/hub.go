package websocket

import (
	"log/slog"
	"sync"
)

// Hub tracks WebSocket clients by the topic they subscribed to and fans
// published payloads out to every client of that topic.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds a client to its topic.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.topics[c.topic]
	if !ok {
		clients = make(map[*Client]struct{})
		h.topics[c.topic] = clients
	}
	clients[c] = struct{}{}
}

// Unregister removes a client and closes its send channel. Empty topics are dropped.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := clients[c]; ok {
		delete(clients, c)
		close(c.send)
	}
	if len(clients) == 0 {
		delete(h.topics, c.topic)
	}
}

// Publish sends data to every client subscribed to topic and returns how
// many clients accepted it.
func (h *Hub) Publish(topic string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.topics[topic] {
		select {
		case c.send <- data:
			delivered++
		default:
			h.logger.Warn("client buffer full, dropping message", "topic", topic)
		}
	}
	return delivered
}

// ClientCount returns the number of connected clients across all topics.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, clients := range h.topics {
		n += len(clients)
	}
	return n
}

// Subscribers returns the number of clients listening on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
