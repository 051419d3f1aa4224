package assistant

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trafficwatch/sos-assistant/backend/internal/config"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/recording"
	chatservice "github.com/trafficwatch/sos-assistant/backend/internal/service/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/relay"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/sos"
	speechservice "github.com/trafficwatch/sos-assistant/backend/internal/service/speech"
)

var ErrSessionNotFound = errors.New("session not found")

// RegistryConfig wires shared services into every new session.
type RegistryConfig struct {
	Backend     chatservice.Backend
	Transcriber speechservice.Transcriber
	Voice       speechservice.Voice
	History     *sos.History
	Store       *sos.LocalStore
	Ticker      sos.TickerFunc
	Chat        config.ChatConfig
	SOS         config.SOSConfig
}

type entry struct {
	controller *Controller
	relay      *relay.Relay
}

// Registry owns the live assistant sessions.
type Registry struct {
	cfg RegistryConfig
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]entry
}

// NewRegistry bootstraps an empty in-memory registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.History == nil {
		cfg.History = sos.NewHistory()
	}
	return &Registry{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]entry),
	}
}

// Create provisions a session with its own client relay.
func (r *Registry) Create(userID, lang string) *Controller {
	id := uuid.NewString()
	link := relay.New(id, r.cfg.SOS.AcquireWait)

	deps := Dependencies{
		Backend: r.cfg.Backend,
		Capture: link,
		History: r.cfg.History,
		Store:   r.cfg.Store,
		Ticker:  r.cfg.Ticker,
	}
	if r.cfg.Transcriber != nil {
		deps.Recognizer = speechservice.NewAudioRecognizer(link, r.cfg.Transcriber)
	}
	if r.cfg.Voice != nil {
		deps.Synthesizer = speechservice.NewAudioSynthesizer(r.cfg.Voice, link)
	}

	controller := NewController(id, deps, Options{
		UserID:       userID,
		Language:     language.Resolve(lang),
		StreamDeltas: r.cfg.Chat.StreamDeltas,
		DurationCap:  r.cfg.SOS.DurationCap,
		Tick:         r.cfg.SOS.Tick,
	})

	r.mu.Lock()
	r.sessions[id] = entry{controller: controller, relay: link}
	r.mu.Unlock()

	slog.Info("assistant session created", "session", id, "user", userID, "language", controller.chat.Language())
	return controller
}

// Get retrieves a session by identifier.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.controller, nil
}

// Relay returns the client link of a session.
func (r *Registry) Relay(id string) (*relay.Relay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.relay, nil
}

// Delete tears a session down.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	e.controller.Close()
	slog.Info("assistant session closed", "session", id)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Recordings lists finished captures of every session, newest first,
// optionally restricted to one user.
func (r *Registry) Recordings(userID string) []recording.Recording {
	return r.cfg.History.List(sos.Filter{UserID: userID})
}

// Reap closes sessions idle for longer than ttl and not attached to a client.
func (r *Registry) Reap(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var expired []entry
	for id, e := range r.sessions {
		if e.relay.Connected() || e.controller.LastActive().After(cutoff) {
			continue
		}
		expired = append(expired, e)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.controller.Close()
		slog.Info("assistant session reaped", "session", e.controller.ID())
	}
	return len(expired)
}

// RunReaper reaps idle sessions every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval, ttl time.Duration) error {
	if interval <= 0 || ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Reap(ttl); n > 0 {
				slog.Debug("reaped idle sessions", "count", n, "remaining", r.Len())
			}
		}
	}
}

// CloseAll tears down every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.controller.Close()
	}
}
