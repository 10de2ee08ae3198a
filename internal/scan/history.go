package scan

import (
	"sync"
	"time"
)

// Event is one resolved scan. Events are append-only: created once, never
// mutated, and only prepended to the session history.
type Event struct {
	Code         string    `json:"code"`
	Timestamp    time.Time `json:"timestamp"`
	ResolvedSKU  string    `json:"resolved_sku,omitempty"`
	ResolvedPOID *int64    `json:"resolved_po_id,omitempty"`
	Outcome      string    `json:"outcome"`
	Title        string    `json:"title,omitempty"`
	ImagePath    string    `json:"image_path,omitempty"`
	QtyReceived  int       `json:"qty_received,omitempty"`
	QtyOrdered   int       `json:"qty_ordered,omitempty"`
}

// History is a bounded, newest-first, session-scoped scan log. It is never
// shared across sessions.
type History struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// NewHistory creates a history keeping at most limit events.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 200
	}
	return &History{limit: limit}
}

// Add prepends an event, dropping the oldest past the limit.
func (h *History) Add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append([]Event{e}, h.events...)
	if len(h.events) > h.limit {
		h.events = h.events[:h.limit]
	}
}

// Last returns the most recent event, or nil.
func (h *History) Last() *Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.events) == 0 {
		return nil
	}
	e := h.events[0]
	return &e
}

// All returns a copy of the history, newest first.
func (h *History) All() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// Len returns the number of recorded events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events)
}

// Clear drops all events.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}
