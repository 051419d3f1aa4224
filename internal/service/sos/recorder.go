package sos

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/recording"
)

// Event types published by a Recorder.
const (
	EventStarted = "started"
	EventTick    = "tick"
	EventStopped = "stopped"
	EventError   = "error"
)

// Event reports a recorder transition.
type Event struct {
	Type      string              `json:"type"`
	Recording recording.Recording `json:"recording"`
	Error     string              `json:"error,omitempty"`
}

// Config bounds a recorder.
type Config struct {
	SessionID   string
	UserID      string
	Location    string
	DurationCap time.Duration
	Tick        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.DurationCap <= 0 {
		c.DurationCap = recording.DefaultDurationCap
	}
	if strings.TrimSpace(c.Location) == "" {
		c.Location = recording.DefaultLocation
	}
	return c
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithTicker replaces the wall-clock ticker.
func WithTicker(fn TickerFunc) Option {
	return func(r *Recorder) { r.newTicker = fn }
}

// WithStore mirrors finished artifacts to disk.
func WithStore(store *LocalStore) Option {
	return func(r *Recorder) { r.store = store }
}

// WithClock overrides the start timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder runs the idle -> recording -> stopped -> idle cycle for one
// session. It owns the capture and the ticker of the active recording.
type Recorder struct {
	device    CaptureDevice
	history   *History
	store     *LocalStore
	cfg       Config
	newTicker TickerFunc
	now       func() time.Time

	mu        sync.Mutex
	current   *recording.Recording
	elapsed   time.Duration
	capture   Capture
	ticker    Ticker
	stopTick  chan struct{}
	tickDone  chan struct{}
	acquiring bool
	stopping  bool
	closed    bool
	listeners []func(Event)
}

// NewRecorder builds a recorder that appends finished captures to history.
func NewRecorder(device CaptureDevice, history *History, cfg Config, opts ...Option) *Recorder {
	r := &Recorder{
		device:    device,
		history:   history,
		cfg:       cfg.withDefaults(),
		newTicker: NewTimeTicker,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Supported reports whether a capture device is attached.
func (r *Recorder) Supported() bool {
	return r.device != nil
}

// Subscribe registers fn for recorder events.
func (r *Recorder) Subscribe(fn func(Event)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// State reports idle or recording.
func (r *Recorder) State() recording.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return recording.StateRecording
	}
	return recording.StateIdle
}

// Current returns the in-progress recording, if any.
func (r *Recorder) Current() (recording.Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return recording.Recording{}, false
	}
	return *r.current, true
}

// Start acquires the capture device and starts the capped timer. On
// acquisition failure nothing stays acquired and the state remains idle.
func (r *Recorder) Start(ctx context.Context) (recording.Recording, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return recording.Recording{}, ErrRecorderClosed
	}
	if r.current != nil || r.acquiring || r.stopping {
		r.mu.Unlock()
		return recording.Recording{}, ErrAlreadyRecording
	}
	if r.device == nil {
		r.mu.Unlock()
		return recording.Recording{}, fmt.Errorf("%w: no capture device", ErrCaptureUnavailable)
	}
	r.acquiring = true
	r.mu.Unlock()

	capture, err := r.device.Acquire(ctx, DefaultConstraints())

	r.mu.Lock()
	r.acquiring = false
	if err != nil {
		r.mu.Unlock()
		wrapped := fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		r.emit(Event{Type: EventError, Recording: recording.Recording{State: recording.StateIdle}, Error: wrapped.Error()})
		return recording.Recording{}, wrapped
	}
	if r.closed {
		r.mu.Unlock()
		capture.Release()
		return recording.Recording{}, ErrRecorderClosed
	}

	rec := &recording.Recording{
		ID:          uuid.NewString(),
		SessionID:   r.cfg.SessionID,
		UserID:      r.cfg.UserID,
		StartedAt:   r.now(),
		State:       recording.StateRecording,
		MimeType:    recording.DefaultMimeType,
		Location:    r.cfg.Location,
		DurationCap: int(r.cfg.DurationCap / time.Second),
	}
	r.current = rec
	r.elapsed = 0
	r.capture = capture
	r.ticker = r.newTicker(r.cfg.Tick)
	r.stopTick = make(chan struct{})
	r.tickDone = make(chan struct{})
	go r.run(rec.ID, r.ticker, r.stopTick, r.tickDone)
	snapshot := *rec
	r.mu.Unlock()

	slog.Info("sos recording started", "session", r.cfg.SessionID, "recording", snapshot.ID)
	r.emit(Event{Type: EventStarted, Recording: snapshot})
	return snapshot, nil
}

// Stop finalizes the active capture into history and releases it.
func (r *Recorder) Stop() (recording.Recording, error) {
	return r.finish("", true)
}

// Close stops any active recording and rejects further starts.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	if _, err := r.finish("", true); err != nil && err != ErrNotRecording {
		slog.Warn("sos recorder teardown", "session", r.cfg.SessionID, "error", err)
	}
}

// Delete removes a finished recording of this session from history.
func (r *Recorder) Delete(id string) bool {
	rec, ok := r.history.Get(id)
	if !ok || (r.cfg.SessionID != "" && rec.SessionID != r.cfg.SessionID) {
		return false
	}
	if _, ok := r.history.Delete(id); !ok {
		return false
	}
	if r.store != nil {
		if err := r.store.Delete(rec); err != nil {
			slog.Warn("remove stored artifact", "recording", id, "error", err)
		}
	}
	return true
}

// Recordings lists this session's finished recordings, newest first.
func (r *Recorder) Recordings() []recording.Recording {
	return r.history.List(Filter{SessionID: r.cfg.SessionID})
}

// Recording returns one finished recording of this session.
func (r *Recorder) Recording(id string) (recording.Recording, bool) {
	rec, ok := r.history.Get(id)
	if !ok || (r.cfg.SessionID != "" && rec.SessionID != r.cfg.SessionID) {
		return recording.Recording{}, false
	}
	return rec, true
}

func (r *Recorder) run(id string, ticker Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if capped := r.tick(id); capped {
				if _, err := r.finish(id, false); err != nil && err != ErrNotRecording {
					slog.Warn("sos auto-stop failed", "recording", id, "error", err)
				}
				return
			}
		}
	}
}

func (r *Recorder) tick(id string) bool {
	r.mu.Lock()
	if r.current == nil || r.current.ID != id || r.stopping {
		r.mu.Unlock()
		return false
	}
	r.elapsed += r.cfg.Tick
	if r.elapsed > r.cfg.DurationCap {
		r.elapsed = r.cfg.DurationCap
	}
	r.current.ElapsedSeconds = int(r.elapsed / time.Second)
	capped := r.elapsed >= r.cfg.DurationCap
	snapshot := *r.current
	r.mu.Unlock()

	r.emit(Event{Type: EventTick, Recording: snapshot})
	return capped
}

// finish detaches the active recording and finalizes it. id restricts the
// stop to one recording; wait blocks until the tick loop exited.
func (r *Recorder) finish(id string, wait bool) (recording.Recording, error) {
	r.mu.Lock()
	if r.current == nil || r.stopping || (id != "" && r.current.ID != id) {
		r.mu.Unlock()
		return recording.Recording{}, ErrNotRecording
	}
	r.stopping = true
	rec := *r.current
	capture, ticker, stopTick, tickDone := r.capture, r.ticker, r.stopTick, r.tickDone
	r.mu.Unlock()

	ticker.Stop()
	close(stopTick)
	if wait {
		<-tickDone
	}

	artifact, stopErr := capture.Stop()
	capture.Release()

	r.mu.Lock()
	r.current = nil
	r.capture = nil
	r.ticker = nil
	r.stopTick = nil
	r.tickDone = nil
	r.elapsed = 0
	r.stopping = false
	r.mu.Unlock()

	if stopErr != nil {
		rec.State = recording.StateIdle
		err := fmt.Errorf("finalize capture: %w", stopErr)
		r.emit(Event{Type: EventError, Recording: rec, Error: err.Error()})
		return recording.Recording{}, err
	}

	rec.State = recording.StateStopped
	rec.Artifact = artifact.Data
	if artifact.MimeType != "" {
		rec.MimeType = artifact.MimeType
	}
	r.history.Add(rec)

	if r.store != nil {
		if err := r.store.Save(rec); err != nil {
			slog.Warn("store sos artifact", "recording", rec.ID, "error", err)
		}
	}

	slog.Info("sos recording stopped", "session", r.cfg.SessionID, "recording", rec.ID, "elapsed", rec.ElapsedSeconds, "bytes", len(rec.Artifact))
	r.emit(Event{Type: EventStopped, Recording: rec})
	return rec, nil
}

func (r *Recorder) emit(event Event) {
	r.mu.Lock()
	listeners := make([]func(Event), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}
