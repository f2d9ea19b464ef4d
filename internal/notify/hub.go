package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to live subscribers.
const (
	EventRegistrationCreated = "registration.created"
	EventRegistrationDeleted = "registration.deleted"
	EventCatalogReplaced     = "catalog.replaced"
	EventCatalogImported     = "catalog.imported"
	EventCatalogReset        = "catalog.reset"
	EventSettingsUpdated     = "settings.updated"
)

// Event is a catalog-change notification. Origin identifies the publishing
// instance so a Redis round-trip is not replayed locally.
type Event struct {
	Type   string    `json:"type"`
	At     time.Time `json:"at"`
	Data   any       `json:"data,omitempty"`
	Origin string    `json:"origin,omitempty"`
}

// Hub fans events out to subscribers. Delivery is best-effort: a subscriber
// whose buffer is full misses the event, it is never waited on.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber and returns its ID and channel.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := uuid.New().String()
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		close(ch)
	}
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			slog.Debug("subscriber buffer full, dropping event", "subscriber", id, "type", e.Type)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops all subscribers, closing their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
