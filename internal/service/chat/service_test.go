package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelchat "github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
	chat "github.com/trafficwatch/sos-assistant/backend/internal/service/chat"
)

// scriptedBackend replies with fixed chunks and records every request.
type scriptedBackend struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	failMid  error
	requests []modelchat.CompletionRequest
}

func (b *scriptedBackend) Stream(_ context.Context, req modelchat.CompletionRequest) (*schema.StreamReader[*schema.Message], error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	if b.err != nil {
		return nil, b.err
	}

	reader, writer := schema.Pipe[*schema.Message](len(b.chunks) + 1)
	for _, chunk := range b.chunks {
		writer.Send(schema.AssistantMessage(chunk, nil), nil)
	}
	if b.failMid != nil {
		writer.Send(nil, b.failMid)
	}
	writer.Close()
	return reader, nil
}

// gatedBackend holds the stream open until release is closed.
type gatedBackend struct {
	started chan struct{}
	release chan struct{}
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *gatedBackend) Stream(_ context.Context, _ modelchat.CompletionRequest) (*schema.StreamReader[*schema.Message], error) {
	reader, writer := schema.Pipe[*schema.Message](1)
	go func() {
		defer writer.Close()
		close(b.started)
		<-b.release
		writer.Send(schema.AssistantMessage("first reply", nil), nil)
	}()
	return reader, nil
}

func TestAppendUserMessage(t *testing.T) {
	m := chat.NewManager(&scriptedBackend{}, language.English)

	msg, err := m.AppendUserMessage("  there was a crash  ")
	require.NoError(t, err)
	assert.Equal(t, modelchat.RoleUser, msg.Role)
	assert.Equal(t, "there was a crash", msg.Content)

	snapshot := m.Snapshot()
	require.Len(t, snapshot.Messages, 1)
	assert.Equal(t, msg, snapshot.Messages[0])
}

func TestAppendUserMessageIgnoresBlankInput(t *testing.T) {
	m := chat.NewManager(&scriptedBackend{}, language.English)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := m.AppendUserMessage(text)
		assert.ErrorIs(t, err, chat.ErrEmptyMessage)
	}
	assert.Empty(t, m.Snapshot().Messages)
}

func TestSendCoalescesReply(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"Are ", "you ", "injured?"}}
	var deltas []string
	m := chat.NewManager(backend, language.English, chat.WithDeltaFunc(func(d string) {
		deltas = append(deltas, d)
	}))

	_, err := m.AppendUserMessage("accident on the highway")
	require.NoError(t, err)

	reply, err := m.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, modelchat.RoleAssistant, reply.Role)
	assert.Equal(t, "Are you injured?", reply.Content)
	assert.Equal(t, []string{"Are ", "you ", "injured?"}, deltas)

	snapshot := m.Snapshot()
	require.Len(t, snapshot.Messages, 2)
	assert.False(t, snapshot.AwaitingResponse)
	assert.Equal(t, reply.ID, snapshot.Messages[1].ID)
}

func TestSendCarriesLanguage(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"D'accord"}}
	m := chat.NewManager(backend, language.English)

	m.SetLanguage(language.French)
	_, err := m.Submit(context.Background(), "Il y a un accident")
	require.NoError(t, err)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.Equal(t, language.French, req.Language)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Il y a un accident", req.Messages[0].Content)
}

func TestSendSendsFullHistoryInOrder(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"ok"}}
	m := chat.NewManager(backend, language.English)

	_, err := m.Submit(context.Background(), "one")
	require.NoError(t, err)
	_, err = m.Submit(context.Background(), "two")
	require.NoError(t, err)

	require.Len(t, backend.requests, 2)
	assert.Equal(t, []modelchat.Turn{
		{Role: modelchat.RoleUser, Content: "one"},
		{Role: modelchat.RoleAssistant, Content: "ok"},
		{Role: modelchat.RoleUser, Content: "two"},
	}, backend.requests[1].Messages)
}

func TestSendTransportFailureDiscardsPartialReply(t *testing.T) {
	backend := &scriptedBackend{chunks: []string{"partial "}, failMid: errors.New("connection reset")}
	m := chat.NewManager(backend, language.English)

	_, err := m.Submit(context.Background(), "help")
	require.ErrorIs(t, err, chat.ErrTransport)

	snapshot := m.Snapshot()
	require.Len(t, snapshot.Messages, 1)
	assert.Equal(t, modelchat.RoleUser, snapshot.Messages[0].Role)
	assert.False(t, snapshot.AwaitingResponse)

	backend.failMid = nil
	backend.chunks = []string{"retried"}
	reply, err := m.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "retried", reply.Content)
}

func TestSendBackendUnreachable(t *testing.T) {
	m := chat.NewManager(&scriptedBackend{err: errors.New("dial tcp: refused")}, language.English)

	_, err := m.Submit(context.Background(), "help")
	assert.ErrorIs(t, err, chat.ErrTransport)
	assert.False(t, m.AwaitingResponse())
	assert.Len(t, m.Snapshot().Messages, 1)
}

func TestSendEmptyReplyIsTransportFailure(t *testing.T) {
	m := chat.NewManager(&scriptedBackend{}, language.English)

	_, err := m.Submit(context.Background(), "help")
	assert.ErrorIs(t, err, chat.ErrTransport)
	assert.Len(t, m.Snapshot().Messages, 1)
}

func TestSendWithoutMessages(t *testing.T) {
	m := chat.NewManager(&scriptedBackend{}, language.English)

	_, err := m.Send(context.Background())
	assert.ErrorIs(t, err, chat.ErrNothingToSend)
}

func TestConcurrentSendIsRejected(t *testing.T) {
	backend := newGatedBackend()
	m := chat.NewManager(backend, language.English)

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), "first")
		done <- err
	}()
	<-backend.started

	assert.True(t, m.AwaitingResponse())

	_, err := m.Send(context.Background())
	assert.ErrorIs(t, err, chat.ErrRequestInFlight)
	_, err = m.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, chat.ErrRequestInFlight)
	_, err = m.AppendUserMessage("third")
	assert.ErrorIs(t, err, chat.ErrRequestInFlight)

	close(backend.release)
	require.NoError(t, <-done)

	snapshot := m.Snapshot()
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, "first", snapshot.Messages[0].Content)
	assert.Equal(t, "first reply", snapshot.Messages[1].Content)
}

func TestSubmitPendingClearsInput(t *testing.T) {
	m := chat.NewManager(&scriptedBackend{chunks: []string{"ok"}}, language.English)

	m.SetPendingInput("test message")
	assert.Equal(t, "test message", m.Snapshot().PendingInput)

	_, err := m.SubmitPending(context.Background())
	require.NoError(t, err)

	snapshot := m.Snapshot()
	assert.Empty(t, snapshot.PendingInput)
	assert.Equal(t, "test message", snapshot.Messages[0].Content)
}

func TestSetLanguageFallsBack(t *testing.T) {
	m := chat.NewManager(&scriptedBackend{}, language.Japanese)
	assert.Equal(t, language.Japanese, m.Language())

	assert.Equal(t, language.English, m.SetLanguage(language.Code("xx")))
	assert.Equal(t, language.English, m.Language())
}

func TestOnChangeObservesAwaitingFlag(t *testing.T) {
	m := chat.NewManager(&scriptedBackend{chunks: []string{"ok"}}, language.English)

	var flags []bool
	m.OnChange(func(s modelchat.Session) {
		flags = append(flags, s.AwaitingResponse)
	})

	_, err := m.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, flags)
}

func TestFind(t *testing.T) {
	m := chat.NewManager(&scriptedBackend{}, language.English)
	msg, err := m.AppendUserMessage("hi")
	require.NoError(t, err)

	got, ok := m.Find(msg.ID)
	assert.True(t, ok)
	assert.Equal(t, msg, got)

	_, ok = m.Find("missing")
	assert.False(t, ok)
}

func TestSendWithoutBackendResetsAwaiting(t *testing.T) {
	m := chat.NewManager(nil, language.English)

	_, err := m.Submit(context.Background(), "help")
	require.ErrorIs(t, err, chat.ErrTransport)
	assert.ErrorIs(t, err, chat.ErrNoBackend)
	assert.False(t, m.AwaitingResponse())
	assert.Len(t, m.Snapshot().Messages, 1)
}
