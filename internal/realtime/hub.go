// Package realtime fans job progress out to WebSocket subscribers keyed by
// topic and job id.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Key identifies a session socket set.
type Key struct {
	Topic string
	ID    string
}

// Hub holds the live subscribers of every (topic, id).
type Hub struct {
	mu     sync.RWMutex
	sets   map[Key]map[*Client]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sets:   make(map[Key]map[*Client]struct{}),
		logger: logger,
	}
}

// Subscribe adds c to the set for its key.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sets[c.key]
	if !ok {
		set = make(map[*Client]struct{})
		h.sets[c.key] = set
	}
	set[c] = struct{}{}
	h.logger.Debug("websocket subscribed", "topic", c.key.Topic, "id", c.key.ID, "subscribers", len(set))
}

// Unsubscribe removes c and closes its send queue. The set is dropped when
// it becomes empty. Calling it twice is safe.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sets[c.key]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.sets, c.key)
	}
	h.logger.Debug("websocket unsubscribed", "topic", c.key.Topic, "id", c.key.ID)
}

// Emit sends msg to every subscriber of (topic, id) and returns how many
// queued it. A subscriber whose queue is full is skipped.
func (h *Hub) Emit(topic, id string, msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal websocket message", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.sets[Key{Topic: topic, ID: id}] {
		select {
		case c.send <- data:
			n++
		default:
			h.logger.Warn("websocket send buffer full", "topic", topic, "id", id, "client", c.id)
		}
	}
	return n
}

// Count returns the number of subscribers of (topic, id).
func (h *Hub) Count(topic, id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sets[Key{Topic: topic, ID: id}])
}

// Sets returns the number of live (topic, id) entries.
func (h *Hub) Sets() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sets)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, set := range h.sets {
		for c := range set {
			close(c.send)
		}
		delete(h.sets, key)
	}
}
