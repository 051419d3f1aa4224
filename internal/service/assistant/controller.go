package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/recording"
	chatservice "github.com/trafficwatch/sos-assistant/backend/internal/service/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/sos"
	speechservice "github.com/trafficwatch/sos-assistant/backend/internal/service/speech"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSpeakable    = errors.New("only assistant messages can be spoken")
	ErrSessionClosed   = errors.New("assistant session closed")
)

// Dependencies are the capabilities a controller drives. Nil speech or
// capture capabilities disable the matching feature.
type Dependencies struct {
	Backend     chatservice.Backend
	Recognizer  speechservice.Recognizer
	Synthesizer speechservice.Synthesizer
	Capture     sos.CaptureDevice
	History     *sos.History
	Store       *sos.LocalStore
	Ticker      sos.TickerFunc
}

// Options configure one session.
type Options struct {
	UserID       string
	Language     language.Code
	Location     string
	StreamDeltas bool
	DurationCap  time.Duration
	Tick         time.Duration
}

// Capabilities tells the client which affordances to enable.
type Capabilities struct {
	Recognition bool `json:"recognition"`
	Synthesis   bool `json:"synthesis"`
	Capture     bool `json:"capture"`
}

// Snapshot is the full client-visible state of a session.
type Snapshot struct {
	ID           string               `json:"id"`
	UserID       string               `json:"userId,omitempty"`
	Open         bool                 `json:"open"`
	Language     language.Info        `json:"language"`
	Chat         chat.Session         `json:"chat"`
	Listening    bool                 `json:"listening"`
	Speaking     bool                 `json:"speaking"`
	Recording    *recording.Recording `json:"recording,omitempty"`
	Capabilities Capabilities         `json:"capabilities"`
	LastActive   time.Time            `json:"lastActive"`
}

// Controller composes the chat manager, both speech bridges and the SOS
// recorder for one session. Every operation is safe for concurrent use.
type Controller struct {
	id     string
	userID string

	chat     *chatservice.Manager
	input    *speechservice.InputBridge
	output   *speechservice.OutputBridge
	recorder *sos.Recorder
	hub      *Hub

	mu         sync.Mutex
	open       bool
	closed     bool
	lastActive time.Time
}

// NewController wires a session and its event stream.
func NewController(id string, deps Dependencies, opts Options) *Controller {
	c := &Controller{
		id:         id,
		userID:     opts.UserID,
		hub:        NewHub(),
		lastActive: time.Now(),
	}

	chatOpts := []chatservice.Option{}
	if opts.StreamDeltas {
		chatOpts = append(chatOpts, chatservice.WithDeltaFunc(func(delta string) {
			c.publish(EventDelta, map[string]string{"delta": delta})
		}))
	}
	c.chat = chatservice.NewManager(deps.Backend, opts.Language, chatOpts...)
	c.chat.OnChange(func(s chat.Session) {
		c.publish(EventSession, s)
	})

	c.input = speechservice.NewInputBridge(deps.Recognizer)
	c.input.Subscribe(func(e speechservice.InputEvent) {
		data := map[string]any{"state": e.State, "transcript": e.Transcript}
		if e.Err != nil {
			data["error"] = e.Err.Error()
		}
		c.publish(EventListening, data)
	})

	c.output = speechservice.NewOutputBridge(deps.Synthesizer)
	c.output.Subscribe(func(e speechservice.OutputEvent) {
		data := map[string]any{"speaking": e.Speaking, "text": e.Text}
		if e.Err != nil {
			data["error"] = e.Err.Error()
		}
		c.publish(EventSpeaking, data)
	})

	history := deps.History
	if history == nil {
		history = sos.NewHistory()
	}
	recOpts := []sos.Option{}
	if deps.Ticker != nil {
		recOpts = append(recOpts, sos.WithTicker(deps.Ticker))
	}
	if deps.Store != nil {
		recOpts = append(recOpts, sos.WithStore(deps.Store))
	}
	c.recorder = sos.NewRecorder(deps.Capture, history, sos.Config{
		SessionID:   id,
		UserID:      opts.UserID,
		Location:    opts.Location,
		DurationCap: opts.DurationCap,
		Tick:        opts.Tick,
	}, recOpts...)
	c.recorder.Subscribe(func(e sos.Event) {
		c.publish(EventRecording, e)
	})

	return c
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// UserID returns the owner reported at creation.
func (c *Controller) UserID() string { return c.userID }

// Subscribe streams session events until cancel is called or the session closes.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.hub.Subscribe(buffer)
}

// OpenPanel shows the assistant panel. History is kept across open/close.
func (c *Controller) OpenPanel() {
	c.setOpen(true)
}

// ClosePanel hides the panel and silences any active speech or listening.
func (c *Controller) ClosePanel() {
	c.setOpen(false)
	c.input.StopListening()
	c.output.Stop()
}

// PanelOpen reports whether the panel is shown.
func (c *Controller) PanelOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Controller) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.lastActive = time.Now()
	c.mu.Unlock()
	c.publish(EventPanel, map[string]bool{"open": open})
}

// SetLanguage resolves raw with fallback; subsequent requests, recognition
// and synthesis use the new language.
func (c *Controller) SetLanguage(raw string) (language.Code, error) {
	if err := c.ensureOpen(); err != nil {
		return "", err
	}
	c.touch()
	return c.chat.SetLanguage(language.Resolve(raw)), nil
}

// SetPendingInput replaces the unsent input text.
func (c *Controller) SetPendingInput(text string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.touch()
	c.chat.SetPendingInput(text)
	return nil
}

// Submit appends text and requests the assistant reply.
func (c *Controller) Submit(ctx context.Context, text string) (chat.Message, error) {
	if err := c.ensureOpen(); err != nil {
		return chat.Message{}, err
	}
	c.touch()
	msg, err := c.chat.Submit(ctx, text)
	c.reportChatError(err)
	return msg, err
}

// SubmitPending submits the pending input.
func (c *Controller) SubmitPending(ctx context.Context) (chat.Message, error) {
	if err := c.ensureOpen(); err != nil {
		return chat.Message{}, err
	}
	c.touch()
	msg, err := c.chat.SubmitPending(ctx)
	c.reportChatError(err)
	return msg, err
}

// SpeakMessage vocalizes an assistant message, preempting any utterance.
func (c *Controller) SpeakMessage(messageID string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.touch()

	msg, ok := c.chat.Find(messageID)
	if !ok {
		return ErrMessageNotFound
	}
	if msg.Role != chat.RoleAssistant {
		return ErrNotSpeakable
	}
	return c.output.Speak(msg.Content, c.chat.Language().Locale())
}

// StopSpeaking cancels the active utterance.
func (c *Controller) StopSpeaking() {
	c.touch()
	c.output.Stop()
}

// StartListening captures one utterance; its transcript replaces the
// pending input.
func (c *Controller) StartListening() error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	c.touch()
	return c.input.StartListening(c.chat.Language().Locale(), func(transcript string) {
		c.chat.SetPendingInput(transcript)
	})
}

// StopListening cancels recognition.
func (c *Controller) StopListening() {
	c.touch()
	c.input.StopListening()
}

// StartRecording begins an SOS capture.
func (c *Controller) StartRecording(ctx context.Context) (recording.Recording, error) {
	if err := c.ensureOpen(); err != nil {
		return recording.Recording{}, err
	}
	c.touch()
	rec, err := c.recorder.Start(ctx)
	if err != nil {
		slog.Warn("sos start failed", "session", c.id, "error", err)
	}
	return rec, err
}

// StopRecording finalizes the active capture.
func (c *Controller) StopRecording() (recording.Recording, error) {
	c.touch()
	return c.recorder.Stop()
}

// Recordings lists finished captures, newest first.
func (c *Controller) Recordings() []recording.Recording {
	return c.recorder.Recordings()
}

// Recording returns one finished capture.
func (c *Controller) Recording(id string) (recording.Recording, bool) {
	return c.recorder.Recording(id)
}

// DeleteRecording removes a finished capture; unknown ids report false.
func (c *Controller) DeleteRecording(id string) bool {
	c.touch()
	return c.recorder.Delete(id)
}

// Capabilities reports which capabilities are usable.
func (c *Controller) Capabilities() Capabilities {
	return Capabilities{
		Recognition: c.input.Supported(),
		Synthesis:   c.output.Supported(),
		Capture:     c.recorder.Supported(),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	chatState := c.chat.Snapshot()

	c.mu.Lock()
	open, lastActive := c.open, c.lastActive
	c.mu.Unlock()

	snapshot := Snapshot{
		ID:           c.id,
		UserID:       c.userID,
		Open:         open,
		Language:     chatState.Language.Info(),
		Chat:         chatState,
		Listening:    c.input.State() == speechservice.InputListening,
		Speaking:     c.output.Speaking(),
		Capabilities: c.Capabilities(),
		LastActive:   lastActive,
	}
	if current, ok := c.recorder.Current(); ok {
		snapshot.Recording = &current
	}
	return snapshot
}

// LastActive is the time of the latest user operation.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Close releases every resource the session holds.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.input.Close()
	c.output.Close()
	c.recorder.Close()
	c.publish(EventTerminated, nil)
	c.hub.Close()
}

func (c *Controller) ensureOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	return nil
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Controller) reportChatError(err error) {
	if err == nil || errors.Is(err, chatservice.ErrEmptyMessage) {
		return
	}
	c.publish(EventError, map[string]string{"error": fmt.Sprintf("%v", err)})
}

func (c *Controller) publish(eventType string, data any) {
	c.hub.Publish(Event{
		Type:      eventType,
		SessionID: c.id,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}
