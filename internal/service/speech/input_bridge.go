package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
)

// InputState is the recognition state of an InputBridge.
type InputState string

const (
	InputIdle      InputState = "idle"
	InputListening InputState = "listening"
)

// InputEvent reports a state transition. Transcript is set when a
// recognition produced text; Err when it failed.
type InputEvent struct {
	State      InputState
	Transcript string
	Err        error
}

// InputBridge drives a Recognizer through idle -> listening -> idle.
type InputBridge struct {
	recognizer Recognizer

	mu          sync.Mutex
	state       InputState
	generation  uint64
	cancel      context.CancelFunc
	unsupported bool
	listeners   []func(InputEvent)
	wg          sync.WaitGroup
}

// NewInputBridge wraps recognizer; a nil recognizer yields an unsupported bridge.
func NewInputBridge(recognizer Recognizer) *InputBridge {
	return &InputBridge{recognizer: recognizer, state: InputIdle}
}

// Supported reports whether recognition is available on this host.
func (b *InputBridge) Supported() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recognizer != nil && !b.unsupported
}

// State reports the current state.
func (b *InputBridge) State() InputState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe registers fn for state transitions.
func (b *InputBridge) Subscribe(fn func(InputEvent)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// StartListening begins a single-utterance recognition in locale. When a
// final transcript arrives onTranscript receives it, then the bridge
// returns to idle.
func (b *InputBridge) StartListening(locale string, onTranscript func(string)) error {
	b.mu.Lock()
	if b.recognizer == nil || b.unsupported {
		b.mu.Unlock()
		return ErrUnsupported
	}
	if b.state == InputListening {
		b.mu.Unlock()
		return ErrAlreadyListening
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.generation++
	generation := b.generation
	b.cancel = cancel
	b.state = InputListening
	recognizer := b.recognizer
	b.wg.Add(1)
	b.mu.Unlock()

	b.emit(InputEvent{State: InputListening})

	go func() {
		defer b.wg.Done()
		defer cancel()

		text, err := recognizer.Recognize(ctx, speech.SingleUtterance(locale))

		b.mu.Lock()
		if b.generation != generation {
			// stopped or superseded; the stopper already reported idle
			b.mu.Unlock()
			return
		}
		b.state = InputIdle
		b.cancel = nil
		if errors.Is(err, ErrUnsupported) {
			b.unsupported = true
		}
		b.mu.Unlock()

		event := InputEvent{State: InputIdle}
		switch {
		case err != nil:
			slog.Warn("speech recognition failed", "locale", locale, "error", err)
			event.Err = err
		default:
			event.Transcript = strings.TrimSpace(text)
			if event.Transcript != "" && onTranscript != nil {
				onTranscript(event.Transcript)
			}
		}
		b.emit(event)
	}()

	return nil
}

// StopListening cancels an active recognition immediately. No-op when idle.
func (b *InputBridge) StopListening() {
	b.mu.Lock()
	if b.state != InputListening {
		b.mu.Unlock()
		return
	}
	b.generation++
	cancel := b.cancel
	b.cancel = nil
	b.state = InputIdle
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.emit(InputEvent{State: InputIdle})
}

// Close stops listening and waits for the recognizer to return.
func (b *InputBridge) Close() {
	b.StopListening()
	b.wg.Wait()
}

func (b *InputBridge) emit(event InputEvent) {
	b.mu.Lock()
	listeners := make([]func(InputEvent), len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}
