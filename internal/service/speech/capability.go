package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
)

var (
	ErrUnsupported      = errors.New("speech capability unsupported")
	ErrAlreadyListening = errors.New("speech recognition already active")
)

// Recognizer captures one utterance and returns its final transcript.
type Recognizer interface {
	Recognize(ctx context.Context, cfg speech.RecognitionConfig) (string, error)
}

// Synthesizer vocalizes an utterance. Speak returns when playback ended or
// ctx was cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, u speech.Utterance) error
}

// AudioSource yields finished utterances recorded by the client.
type AudioSource interface {
	NextUtterance(ctx context.Context) (speech.AudioClip, error)
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip speech.AudioClip, locale string) (string, error)
}

// Voice renders an utterance to audio.
type Voice interface {
	Synthesize(ctx context.Context, u speech.Utterance) (speech.AudioClip, error)
}

// PlaybackSink plays audio on the client and blocks until it finished.
type PlaybackSink interface {
	Play(ctx context.Context, clip speech.AudioClip, u speech.Utterance) error
}

// AudioRecognizer transcribes the next utterance coming from an AudioSource.
type AudioRecognizer struct {
	source      AudioSource
	transcriber Transcriber
}

// NewAudioRecognizer returns nil when either side is missing.
func NewAudioRecognizer(source AudioSource, transcriber Transcriber) *AudioRecognizer {
	if source == nil || transcriber == nil {
		return nil
	}
	return &AudioRecognizer{source: source, transcriber: transcriber}
}

func (r *AudioRecognizer) Recognize(ctx context.Context, cfg speech.RecognitionConfig) (string, error) {
	clip, err := r.source.NextUtterance(ctx)
	if err != nil {
		return "", err
	}
	if clip.Empty() {
		return "", nil
	}

	text, err := r.transcriber.Transcribe(ctx, clip, cfg.Lang)
	if err != nil {
		return "", fmt.Errorf("transcribe utterance: %w", err)
	}
	return text, nil
}

// AudioSynthesizer renders speech with a Voice and plays it through a sink.
type AudioSynthesizer struct {
	voice Voice
	sink  PlaybackSink
}

// NewAudioSynthesizer returns nil when either side is missing.
func NewAudioSynthesizer(voice Voice, sink PlaybackSink) *AudioSynthesizer {
	if voice == nil || sink == nil {
		return nil
	}
	return &AudioSynthesizer{voice: voice, sink: sink}
}

func (s *AudioSynthesizer) Speak(ctx context.Context, u speech.Utterance) error {
	clip, err := s.voice.Synthesize(ctx, u)
	if err != nil {
		return fmt.Errorf("synthesize utterance: %w", err)
	}
	if clip.Empty() {
		return nil
	}
	return s.sink.Play(ctx, clip, u)
}
