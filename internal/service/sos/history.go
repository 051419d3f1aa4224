package sos

import (
	"sync"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/recording"
)

// Filter narrows a history listing. Empty fields match everything.
type Filter struct {
	SessionID string
	UserID    string
}

func (f Filter) match(rec recording.Recording) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}
	return true
}

// History keeps finished recordings, newest first.
type History struct {
	mu    sync.RWMutex
	items []recording.Recording
}

func NewHistory() *History {
	return &History{items: make([]recording.Recording, 0, 8)}
}

// Add prepends rec.
func (h *History) Add(rec recording.Recording) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append([]recording.Recording{rec}, h.items...)
}

// List returns the matching recordings, newest first.
func (h *History) List(filter Filter) []recording.Recording {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]recording.Recording, 0, len(h.items))
	for _, rec := range h.items {
		if filter.match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Get looks a recording up by id.
func (h *History) Get(id string) (recording.Recording, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, rec := range h.items {
		if rec.ID == id {
			return rec, true
		}
	}
	return recording.Recording{}, false
}

// Delete removes the recording with id. It reports false when none matched.
func (h *History) Delete(id string) (recording.Recording, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, rec := range h.items {
		if rec.ID == id {
			h.items = append(h.items[:i:i], h.items[i+1:]...)
			return rec, true
		}
	}
	return recording.Recording{}, false
}

// Len returns the number of stored recordings.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}
