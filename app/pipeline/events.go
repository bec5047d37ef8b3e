package pipeline

import (
	"sync"
	"time"
)

const (
	EventNewPending       = "new_pending_promotion"
	EventPendingCount     = "pending_count_update"
	EventQueueStatus      = "queue_status_update"
	EventConnectionStatus = "connection_status"
)

// Event is a timestamped envelope pushed to dashboard subscribers.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Hub fans events out to subscribers. Delivery is best-effort: a subscriber
// that stops draining its channel loses events rather than blocking the
// pipeline.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(eventType string, data any) {
	event := Event{
		Type: eventType,
		Data: data,
		At:   time.Now(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
