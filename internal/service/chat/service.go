package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrRequestInFlight = errors.New("a chat request is already in flight")
	ErrNothingToSend   = errors.New("conversation has no messages")
	ErrTransport       = errors.New("chat backend transport failure")
	ErrNoBackend       = errors.New("no chat backend configured")
)

// Backend streams the assistant's reply for a completion request.
type Backend interface {
	Stream(ctx context.Context, req chat.CompletionRequest) (*schema.StreamReader[*schema.Message], error)
}

// DeltaFunc observes reply increments while a request is in flight.
type DeltaFunc func(delta string)

// Option customizes a Manager.
type Option func(*Manager)

// WithDeltaFunc registers an observer for streamed increments.
func WithDeltaFunc(fn DeltaFunc) Option {
	return func(m *Manager) {
		m.onDelta = fn
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns one conversation and its request/response cycle.
// At most one backend request is in flight at any time.
type Manager struct {
	backend Backend
	onDelta DeltaFunc
	now     func() time.Time

	mu        sync.Mutex
	session   chat.Session
	listeners []func(chat.Session)
}

// NewManager creates an empty conversation in the given language.
func NewManager(backend Backend, lang language.Code, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}

	m.session = chat.Session{
		ID:        uuid.NewString(),
		Messages:  make([]chat.Message, 0, 16),
		Language:  language.Resolve(string(lang)),
		CreatedAt: m.now(),
	}
	return m
}

// OnChange registers fn to receive a snapshot after every state change.
func (m *Manager) OnChange(fn func(chat.Session)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Snapshot returns a copy of the current conversation state.
func (m *Manager) Snapshot() chat.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Language reports the active language.
func (m *Manager) Language() language.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Language
}

// AwaitingResponse reports whether a request is in flight.
func (m *Manager) AwaitingResponse() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.AwaitingResponse
}

// SetLanguage switches the language used by subsequent requests.
// Unrecognized codes fall back to English.
func (m *Manager) SetLanguage(code language.Code) language.Code {
	resolved := language.Resolve(string(code))

	m.mu.Lock()
	m.session.Language = resolved
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot)
	return resolved
}

// SetPendingInput replaces the text waiting to be submitted.
func (m *Manager) SetPendingInput(text string) {
	m.mu.Lock()
	m.session.PendingInput = text
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot)
}

// AppendUserMessage appends trimmed text as a user message.
func (m *Manager) AppendUserMessage(text string) (chat.Message, error) {
	m.mu.Lock()
	if m.session.AwaitingResponse {
		m.mu.Unlock()
		return chat.Message{}, ErrRequestInFlight
	}
	msg, err := m.appendLocked(text)
	if err != nil {
		m.mu.Unlock()
		return chat.Message{}, err
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot)
	return msg, nil
}

// Send transmits the full history and appends the coalesced reply.
func (m *Manager) Send(ctx context.Context) (chat.Message, error) {
	m.mu.Lock()
	if m.session.AwaitingResponse {
		m.mu.Unlock()
		return chat.Message{}, ErrRequestInFlight
	}
	if len(m.session.Messages) == 0 {
		m.mu.Unlock()
		return chat.Message{}, ErrNothingToSend
	}
	req := m.beginLocked()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot)
	return m.complete(ctx, req)
}

// Submit appends text and sends it in one step, clearing the pending input.
func (m *Manager) Submit(ctx context.Context, text string) (chat.Message, error) {
	m.mu.Lock()
	if m.session.AwaitingResponse {
		m.mu.Unlock()
		return chat.Message{}, ErrRequestInFlight
	}
	if _, err := m.appendLocked(text); err != nil {
		m.mu.Unlock()
		return chat.Message{}, err
	}
	m.session.PendingInput = ""
	req := m.beginLocked()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot)
	return m.complete(ctx, req)
}

// SubmitPending submits the current pending input.
func (m *Manager) SubmitPending(ctx context.Context) (chat.Message, error) {
	m.mu.Lock()
	pending := m.session.PendingInput
	m.mu.Unlock()

	return m.Submit(ctx, pending)
}

// Find returns the message with the given id.
func (m *Manager) Find(id string) (chat.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.session.Messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return chat.Message{}, false
}

func (m *Manager) appendLocked(text string) (chat.Message, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	msg := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   content,
		CreatedAt: m.now(),
	}
	m.session.Messages = append(m.session.Messages, msg)
	return msg, nil
}

func (m *Manager) beginLocked() chat.CompletionRequest {
	m.session.AwaitingResponse = true
	return chat.CompletionRequest{
		Messages: chat.Turns(m.session.Messages),
		Language: m.session.Language,
	}
}

func (m *Manager) complete(ctx context.Context, req chat.CompletionRequest) (chat.Message, error) {
	content, err := m.collect(ctx, req)

	m.mu.Lock()
	m.session.AwaitingResponse = false
	var msg chat.Message
	if err == nil {
		msg = chat.Message{
			ID:        uuid.NewString(),
			Role:      chat.RoleAssistant,
			Content:   content,
			CreatedAt: m.now(),
		}
		m.session.Messages = append(m.session.Messages, msg)
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot)
	if err != nil {
		slog.Warn("chat request failed", "session", snapshot.ID, "language", req.Language, "error", err)
		return chat.Message{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return msg, nil
}

func (m *Manager) collect(ctx context.Context, req chat.CompletionRequest) (string, error) {
	if m.backend == nil {
		return "", ErrNoBackend
	}
	stream, err := m.backend.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 32)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		chunks = append(chunks, chunk)
		if m.onDelta != nil {
			m.onDelta(chunk.Content)
		}
	}

	if len(chunks) == 0 {
		return "", errors.New("backend returned an empty reply")
	}

	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", fmt.Errorf("concat reply chunks: %w", err)
	}
	return full.Content, nil
}

func (m *Manager) snapshotLocked() chat.Session {
	snapshot := m.session
	snapshot.Messages = make([]chat.Message, len(m.session.Messages))
	copy(snapshot.Messages, m.session.Messages)
	return snapshot
}

func (m *Manager) notify(snapshot chat.Session) {
	m.mu.Lock()
	listeners := make([]func(chat.Session), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
