package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
)

// chanRecognizer returns whatever is pushed on results.
type chanRecognizer struct {
	mu      sync.Mutex
	configs []speech.RecognitionConfig
	results chan recognition
}

type recognition struct {
	text string
	err  error
}

func newChanRecognizer() *chanRecognizer {
	return &chanRecognizer{results: make(chan recognition, 1)}
}

func (r *chanRecognizer) Recognize(ctx context.Context, cfg speech.RecognitionConfig) (string, error) {
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()

	select {
	case res := <-r.results:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// blockingSynth plays until cancelled or finished via the finish channel.
type blockingSynth struct {
	mu        sync.Mutex
	started   []string
	completed []string
	cancelled []string
	finish    chan struct{}
}

func newBlockingSynth() *blockingSynth {
	return &blockingSynth{finish: make(chan struct{})}
}

func (s *blockingSynth) Speak(ctx context.Context, u speech.Utterance) error {
	s.mu.Lock()
	s.started = append(s.started, u.Text)
	s.mu.Unlock()

	select {
	case <-s.finish:
		s.mu.Lock()
		s.completed = append(s.completed, u.Text)
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelled = append(s.cancelled, u.Text)
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *blockingSynth) snapshot() (started, completed, cancelled []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...), append([]string(nil), s.completed...), append([]string(nil), s.cancelled...)
}

func TestInputBridgeDeliversTranscript(t *testing.T) {
	rec := newChanRecognizer()
	bridge := NewInputBridge(rec)
	defer bridge.Close()

	events := make(chan InputEvent, 4)
	bridge.Subscribe(func(e InputEvent) { events <- e })

	transcripts := make(chan string, 1)
	require.NoError(t, bridge.StartListening("fr-FR", func(text string) { transcripts <- text }))
	assert.Equal(t, InputListening, bridge.State())
	assert.Equal(t, InputListening, (<-events).State)

	rec.results <- recognition{text: " test message "}

	assert.Equal(t, "test message", <-transcripts)
	idle := <-events
	assert.Equal(t, InputIdle, idle.State)
	assert.Equal(t, "test message", idle.Transcript)
	assert.Equal(t, InputIdle, bridge.State())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.configs, 1)
	assert.Equal(t, speech.RecognitionConfig{Continuous: false, InterimResults: false, Lang: "fr-FR"}, rec.configs[0])
}

func TestInputBridgeRejectsSecondStart(t *testing.T) {
	bridge := NewInputBridge(newChanRecognizer())
	defer bridge.Close()

	require.NoError(t, bridge.StartListening("en-US", nil))
	assert.ErrorIs(t, bridge.StartListening("en-US", nil), ErrAlreadyListening)
}

func TestInputBridgeStopIsImmediate(t *testing.T) {
	rec := newChanRecognizer()
	bridge := NewInputBridge(rec)

	called := false
	require.NoError(t, bridge.StartListening("en-US", func(string) { called = true }))
	bridge.StopListening()
	assert.Equal(t, InputIdle, bridge.State())

	bridge.Close()
	assert.False(t, called)

	// a stopped bridge can listen again
	require.NoError(t, bridge.StartListening("en-US", nil))
	bridge.Close()
}

func TestInputBridgeErrorReturnsToIdle(t *testing.T) {
	rec := newChanRecognizer()
	bridge := NewInputBridge(rec)
	defer bridge.Close()

	events := make(chan InputEvent, 4)
	bridge.Subscribe(func(e InputEvent) { events <- e })

	require.NoError(t, bridge.StartListening("en-US", nil))
	<-events
	rec.results <- recognition{err: errors.New("no-speech")}

	idle := <-events
	assert.Equal(t, InputIdle, idle.State)
	assert.EqualError(t, idle.Err, "no-speech")
	assert.True(t, bridge.Supported())
}

func TestInputBridgeUnsupported(t *testing.T) {
	bridge := NewInputBridge(nil)
	assert.False(t, bridge.Supported())
	assert.ErrorIs(t, bridge.StartListening("en-US", nil), ErrUnsupported)

	rec := newChanRecognizer()
	bridge = NewInputBridge(rec)
	events := make(chan InputEvent, 4)
	bridge.Subscribe(func(e InputEvent) { events <- e })
	require.NoError(t, bridge.StartListening("en-US", nil))
	<-events
	rec.results <- recognition{err: ErrUnsupported}
	<-events
	assert.False(t, bridge.Supported())
	bridge.Close()
}

func TestOutputBridgePreemptsPreviousUtterance(t *testing.T) {
	synth := newBlockingSynth()
	bridge := NewOutputBridge(synth)
	defer bridge.Close()

	require.NoError(t, bridge.Speak("utterance A", "en-US"))
	require.NoError(t, bridge.Speak("utterance B", "en-US"))
	assert.True(t, bridge.Speaking())

	ended := make(chan OutputEvent, 1)
	bridge.Subscribe(func(e OutputEvent) {
		if !e.Speaking {
			ended <- e
		}
	})

	require.Eventually(t, func() bool {
		started, _, _ := synth.snapshot()
		return len(started) == 2
	}, time.Second, 5*time.Millisecond)

	close(synth.finish)
	event := <-ended
	assert.Equal(t, "utterance B", event.Text)
	assert.False(t, bridge.Speaking())

	started, completed, cancelled := synth.snapshot()
	assert.Equal(t, []string{"utterance A", "utterance B"}, started)
	assert.Equal(t, []string{"utterance B"}, completed)
	assert.Equal(t, []string{"utterance A"}, cancelled)
}

func TestOutputBridgeStop(t *testing.T) {
	synth := newBlockingSynth()
	bridge := NewOutputBridge(synth)

	require.NoError(t, bridge.Speak("hello", "en-US"))
	bridge.Stop()
	assert.False(t, bridge.Speaking())

	_, completed, cancelled := synth.snapshot()
	assert.Empty(t, completed)
	assert.Equal(t, []string{"hello"}, cancelled)

	// idle stop is a no-op
	bridge.Stop()
}

func TestOutputBridgeUtteranceDefaults(t *testing.T) {
	var got speech.Utterance
	done := make(chan struct{})
	bridge := NewOutputBridge(synthFunc(func(_ context.Context, u speech.Utterance) error {
		got = u
		close(done)
		return nil
	}))

	require.NoError(t, bridge.Speak("Bonjour", "fr-FR"))
	<-done
	assert.Equal(t, speech.Utterance{Text: "Bonjour", Lang: "fr-FR", Rate: 1, Pitch: 1, Volume: 1}, got)
}

func TestOutputBridgeUnsupported(t *testing.T) {
	bridge := NewOutputBridge(nil)
	assert.False(t, bridge.Supported())
	assert.ErrorIs(t, bridge.Speak("hi", "en-US"), ErrUnsupported)
}

type synthFunc func(ctx context.Context, u speech.Utterance) error

func (f synthFunc) Speak(ctx context.Context, u speech.Utterance) error { return f(ctx, u) }

type clipSource struct{ clip speech.AudioClip }

func (s clipSource) NextUtterance(context.Context) (speech.AudioClip, error) { return s.clip, nil }

type echoTranscriber struct{ locale string }

func (e *echoTranscriber) Transcribe(_ context.Context, clip speech.AudioClip, locale string) (string, error) {
	e.locale = locale
	return string(clip.Data), nil
}

func TestAudioRecognizer(t *testing.T) {
	tr := &echoTranscriber{}
	rec := NewAudioRecognizer(clipSource{clip: speech.AudioClip{Data: []byte("hilfe"), Format: "webm"}}, tr)

	text, err := rec.Recognize(context.Background(), speech.SingleUtterance("de-DE"))
	require.NoError(t, err)
	assert.Equal(t, "hilfe", text)
	assert.Equal(t, "de-DE", tr.locale)

	assert.Nil(t, NewAudioRecognizer(nil, tr))
}

type staticVoice struct{}

func (staticVoice) Synthesize(_ context.Context, u speech.Utterance) (speech.AudioClip, error) {
	return speech.AudioClip{Data: []byte(u.Text), Format: "mp3"}, nil
}

type recordingSink struct{ played []speech.AudioClip }

func (s *recordingSink) Play(_ context.Context, clip speech.AudioClip, _ speech.Utterance) error {
	s.played = append(s.played, clip)
	return nil
}

func TestAudioSynthesizer(t *testing.T) {
	sink := &recordingSink{}
	synth := NewAudioSynthesizer(staticVoice{}, sink)

	require.NoError(t, synth.Speak(context.Background(), speech.NewUtterance("stay calm", "en-US")))
	require.Len(t, sink.played, 1)
	assert.Equal(t, "stay calm", string(sink.played[0].Data))

	assert.Nil(t, NewAudioSynthesizer(staticVoice{}, nil))
}

func TestOutputBridgeNotifiesTransitions(t *testing.T) {
	bridge := NewOutputBridge(synthFunc(func(ctx context.Context, _ speech.Utterance) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	var mu sync.Mutex
	var events []OutputEvent
	bridge.Subscribe(func(e OutputEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	require.NoError(t, bridge.Speak("stay calm", "en-US"))
	bridge.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, OutputEvent{Speaking: true, Text: "stay calm"}, events[0])
	assert.False(t, events[1].Speaking)
}
