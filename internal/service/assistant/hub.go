package assistant

import (
	"log/slog"
	"sync"
	"time"
)

// Event types fanned out to subscribers.
const (
	EventSnapshot   = "snapshot"
	EventSession    = "session"
	EventPanel      = "panel"
	EventDelta      = "delta"
	EventListening  = "listening"
	EventSpeaking   = "speaking"
	EventRecording  = "recording"
	EventError      = "error"
	EventTerminated = "terminated"
)

// Event is one notification about a session.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Hub fans events out to subscribers without blocking the publisher. When a
// subscriber falls behind by more than its buffer, delta events are dropped
// and every other event type is coalesced to its latest value, so the
// final state always reaches the subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel of events and a function that ends the
// subscription. The channel is closed once the hub closes and the queued
// events have been delivered.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	sub := newSubscriber(buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	go sub.pump()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			sub.stop()
		})
	}
}

// Publish delivers event to every subscriber without blocking.
func (h *Hub) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.subs {
		if !sub.enqueue(event) {
			slog.Debug("dropping event for slow subscriber", "subscriber", id, "type", event.Type, "session", event.SessionID)
		}
	}
}

// Close ends every subscription after its queued events are delivered.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[int]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.finish()
	}
}

// subscriber queues events for one consumer. Its queue holds at most limit
// events plus one per coalesced event type.
type subscriber struct {
	limit int
	out   chan Event
	wake  chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	queue    []Event
	draining bool
	stopped  bool
}

func newSubscriber(limit int) *subscriber {
	return &subscriber{
		limit: limit,
		out:   make(chan Event),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		queue: make([]Event, 0, limit),
	}
}

// enqueue reports false when event was dropped.
func (s *subscriber) enqueue(event Event) bool {
	s.mu.Lock()
	if s.draining || s.stopped {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.limit {
		if event.Type == EventDelta {
			s.mu.Unlock()
			return false
		}
		for i, queued := range s.queue {
			if queued.Type == event.Type {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	s.signal()
	return true
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		event := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- event:
		case <-s.done:
			return
		}
	}
}

// finish accepts no more events and closes out once the queue is empty.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.signal()
}

// stop discards queued events and closes out immediately.
func (s *subscriber) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
