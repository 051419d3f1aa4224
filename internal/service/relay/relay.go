package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/sos"
)

var (
	ErrNotConnected = errors.New("no client connected to session")
	ErrDetached     = errors.New("client disconnected")
	ErrCaptureBusy  = errors.New("capture device already in use")
)

// Outbound frame types.
const (
	FrameEvent   = "event"
	FrameListen  = "listen"
	FrameTTS     = "tts"
	FrameCapture = "capture"
	FrameError   = "error"
)

// Frame is the envelope exchanged with the browser client.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Sender writes frames to the attached client.
type Sender interface {
	Send(frame Frame) error
}

// Relay is the server side of a session's client link. It serves as the
// speech AudioSource and PlaybackSink and as the SOS CaptureDevice.
type Relay struct {
	sessionID   string
	acquireWait time.Duration
	stopWait    time.Duration

	mu         sync.Mutex
	sender     Sender
	gone       chan struct{}
	audio      bytes.Buffer
	audioFmt   string
	utterances chan speech.AudioClip
	playbacks  map[string]chan struct{}
	capture    *remoteCapture
}

// New creates a detached relay for sessionID.
func New(sessionID string, acquireWait time.Duration) *Relay {
	if acquireWait <= 0 {
		acquireWait = 15 * time.Second
	}
	return &Relay{
		sessionID:   sessionID,
		acquireWait: acquireWait,
		stopWait:    5 * time.Second,
		utterances:  make(chan speech.AudioClip, 1),
		playbacks:   make(map[string]chan struct{}),
	}
}

// Attach routes outbound frames to sender, replacing any previous client.
func (r *Relay) Attach(sender Sender) {
	r.mu.Lock()
	previous, gone := r.sender, r.gone
	r.sender = sender
	if previous != sender {
		r.gone = make(chan struct{})
	}
	r.mu.Unlock()

	if previous != nil && previous != sender {
		r.failPending(gone)
	}
}

// Detach drops sender if it is still the attached client and fails
// everything waiting on it.
func (r *Relay) Detach(sender Sender) {
	r.mu.Lock()
	if r.sender != sender {
		r.mu.Unlock()
		return
	}
	gone := r.gone
	r.sender = nil
	r.gone = nil
	r.mu.Unlock()

	r.failPending(gone)
}

// Connected reports whether a client is attached.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sender != nil
}

// Publish sends a frame to the attached client.
func (r *Relay) Publish(frameType string, data any) error {
	r.mu.Lock()
	sender := r.sender
	r.mu.Unlock()

	if sender == nil {
		return ErrNotConnected
	}
	return sender.Send(Frame{
		Type:      frameType,
		SessionID: r.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// HandleAudio buffers a microphone chunk; a final chunk completes the
// utterance. Only the newest unread utterance is kept.
func (r *Relay) HandleAudio(chunk []byte, format string, final bool) {
	r.mu.Lock()
	if len(chunk) > 0 {
		r.audio.Write(chunk)
	}
	if format != "" {
		r.audioFmt = format
	}
	if !final {
		r.mu.Unlock()
		return
	}
	clip := speech.AudioClip{
		Data:      bytes.Clone(r.audio.Bytes()),
		Format:    r.audioFmt,
		CreatedAt: time.Now().UTC(),
	}
	r.audio.Reset()
	r.mu.Unlock()

	select {
	case <-r.utterances:
	default:
	}
	r.utterances <- clip
}

// NextUtterance asks the client to record one utterance and waits for it.
// It fails with ErrDetached when the client goes away first.
func (r *Relay) NextUtterance(ctx context.Context) (speech.AudioClip, error) {
	select {
	case <-r.utterances:
	default:
	}
	r.mu.Lock()
	r.audio.Reset()
	gone := r.gone
	r.mu.Unlock()

	if err := r.Publish(FrameListen, map[string]any{"action": "start"}); err != nil {
		return speech.AudioClip{}, err
	}

	select {
	case clip := <-r.utterances:
		return clip, nil
	case <-gone:
		return speech.AudioClip{}, ErrDetached
	case <-ctx.Done():
		_ = r.Publish(FrameListen, map[string]any{"action": "stop"})
		return speech.AudioClip{}, ctx.Err()
	}
}

// Play sends synthesized audio and blocks until the client reports the end
// of playback. Cancelling ctx tells the client to stop immediately.
func (r *Relay) Play(ctx context.Context, clip speech.AudioClip, u speech.Utterance) error {
	id := uuid.NewString()
	ended := make(chan struct{})

	r.mu.Lock()
	r.playbacks[id] = ended
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.playbacks, id)
		r.mu.Unlock()
	}()

	err := r.Publish(FrameTTS, map[string]any{
		"action":    "play",
		"id":        id,
		"audioData": base64.StdEncoding.EncodeToString(clip.Data),
		"format":    clip.Format,
		"lang":      u.Lang,
		"text":      u.Text,
		"volume":    u.Volume,
	})
	if err != nil {
		return err
	}

	select {
	case <-ended:
		return nil
	case <-ctx.Done():
		_ = r.Publish(FrameTTS, map[string]any{"action": "stop", "id": id})
		return ctx.Err()
	}
}

// HandlePlaybackEnded marks playback id as finished.
func (r *Relay) HandlePlaybackEnded(id string) {
	r.mu.Lock()
	ended, ok := r.playbacks[id]
	if ok {
		delete(r.playbacks, id)
	}
	r.mu.Unlock()

	if ok {
		close(ended)
	}
}

// Acquire asks the client for camera and microphone access.
func (r *Relay) Acquire(ctx context.Context, constraints sos.Constraints) (sos.Capture, error) {
	capture := &remoteCapture{
		relay:   r,
		id:      uuid.NewString(),
		replied: make(chan captureReply, 1),
		final:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.sender == nil {
		r.mu.Unlock()
		return nil, ErrNotConnected
	}
	if r.capture != nil {
		r.mu.Unlock()
		return nil, ErrCaptureBusy
	}
	r.capture = capture
	r.mu.Unlock()

	err := r.Publish(FrameCapture, map[string]any{
		"action":      "request",
		"id":          capture.id,
		"constraints": constraints,
	})
	if err != nil {
		r.clearCapture(capture)
		return nil, err
	}

	timer := time.NewTimer(r.acquireWait)
	defer timer.Stop()

	select {
	case reply := <-capture.replied:
		if reply.err != nil {
			r.clearCapture(capture)
			return nil, reply.err
		}
		slog.Debug("capture granted", "session", r.sessionID, "capture", capture.id)
		return capture, nil
	case <-timer.C:
		capture.Release()
		return nil, fmt.Errorf("capture permission not answered within %s", r.acquireWait)
	case <-ctx.Done():
		capture.Release()
		return nil, ctx.Err()
	}
}

// HandleCaptureReply resolves a pending acquisition.
func (r *Relay) HandleCaptureReply(id string, granted bool, reason string) {
	capture := r.activeCapture(id)
	if capture == nil {
		return
	}
	var err error
	if !granted {
		if reason == "" {
			reason = "permission denied"
		}
		err = errors.New(reason)
	}
	select {
	case capture.replied <- captureReply{err: err}:
	default:
	}
}

// HandleCaptureChunk appends recorded media; final marks the end of the
// artifact after a stop request.
func (r *Relay) HandleCaptureChunk(id string, chunk []byte, mimeType string, final bool) {
	capture := r.activeCapture(id)
	if capture == nil {
		return
	}
	capture.append(chunk, mimeType, final)
}

func (r *Relay) activeCapture(id string) *remoteCapture {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capture == nil || r.capture.id != id {
		return nil
	}
	return r.capture
}

func (r *Relay) clearCapture(capture *remoteCapture) {
	r.mu.Lock()
	if r.capture == capture {
		r.capture = nil
	}
	r.mu.Unlock()
}

func (r *Relay) failPending(gone chan struct{}) {
	if gone != nil {
		close(gone)
	}

	r.mu.Lock()
	capture := r.capture
	playbacks := r.playbacks
	r.playbacks = make(map[string]chan struct{})
	r.mu.Unlock()

	for _, ended := range playbacks {
		close(ended)
	}
	if capture != nil {
		select {
		case capture.replied <- captureReply{err: ErrDetached}:
		default:
		}
		capture.markFinal()
	}
}
