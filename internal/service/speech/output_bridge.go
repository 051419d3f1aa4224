package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
)

// OutputEvent reports a transition between idle and speaking.
type OutputEvent struct {
	Speaking bool
	Text     string
	Err      error
}

// OutputBridge keeps at most one utterance active. A new Speak preempts the
// current one.
type OutputBridge struct {
	synth Synthesizer

	mu          sync.Mutex
	speaking    bool
	generation  uint64
	cancel      context.CancelFunc
	done        chan struct{}
	unsupported bool
	listeners   []func(OutputEvent)
}

// NewOutputBridge wraps synth; a nil synthesizer yields an unsupported bridge.
func NewOutputBridge(synth Synthesizer) *OutputBridge {
	return &OutputBridge{synth: synth}
}

// Supported reports whether synthesis is available on this host.
func (b *OutputBridge) Supported() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.synth != nil && !b.unsupported
}

// Speaking reports whether an utterance is active.
func (b *OutputBridge) Speaking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speaking
}

// Subscribe registers fn for state transitions.
func (b *OutputBridge) Subscribe(fn func(OutputEvent)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Speak cancels the active utterance, waits for it to end, then starts
// text in locale. It returns once playback has started.
func (b *OutputBridge) Speak(text, locale string) error {
	text = strings.TrimSpace(text)

	b.mu.Lock()
	if b.synth == nil || b.unsupported {
		b.mu.Unlock()
		return ErrUnsupported
	}
	if text == "" {
		b.mu.Unlock()
		return nil
	}

	prevCancel, prevDone := b.cancel, b.done
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.generation++
	generation := b.generation
	b.cancel = cancel
	b.done = done
	b.speaking = true
	synth := b.synth
	b.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	b.emit(OutputEvent{Speaking: true, Text: text})

	go func() {
		defer close(done)
		defer cancel()

		err := synth.Speak(ctx, speech.NewUtterance(text, locale))
		if errors.Is(err, context.Canceled) {
			err = nil
		}

		b.mu.Lock()
		current := b.generation == generation
		if current {
			b.speaking = false
			b.cancel = nil
			b.done = nil
		}
		if errors.Is(err, ErrUnsupported) {
			b.unsupported = true
		}
		b.mu.Unlock()

		if err != nil {
			slog.Warn("speech synthesis failed", "locale", locale, "error", err)
		}
		if current {
			b.emit(OutputEvent{Speaking: false, Text: text, Err: err})
		}
	}()

	return nil
}

// Stop cancels the active utterance and waits for it to end. No-op when idle.
func (b *OutputBridge) Stop() {
	b.mu.Lock()
	if !b.speaking {
		b.mu.Unlock()
		return
	}
	b.generation++
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.done = nil
	b.speaking = false
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	b.emit(OutputEvent{Speaking: false})
}

// Close is Stop; the bridge holds no other resources.
func (b *OutputBridge) Close() {
	b.Stop()
}

func (b *OutputBridge) emit(event OutputEvent) {
	b.mu.Lock()
	listeners := make([]func(OutputEvent), len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}
