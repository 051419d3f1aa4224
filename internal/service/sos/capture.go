package sos

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCaptureUnavailable = errors.New("media capture unavailable")
	ErrAlreadyRecording   = errors.New("recording already in progress")
	ErrNotRecording       = errors.New("no recording in progress")
	ErrRecorderClosed     = errors.New("recorder closed")
)

// FacingEnvironment asks for the rear camera.
const FacingEnvironment = "environment"

// Constraints are the media constraints sent to the capture device.
type Constraints struct {
	Video string `json:"video"`
	Audio bool   `json:"audio"`
}

// DefaultConstraints prefers the rear camera with audio.
func DefaultConstraints() Constraints {
	return Constraints{Video: FacingEnvironment, Audio: true}
}

// Artifact is the finalized media of one capture.
type Artifact struct {
	Data     []byte
	MimeType string
}

// CaptureDevice grants exclusive access to a camera and microphone.
type CaptureDevice interface {
	Acquire(ctx context.Context, constraints Constraints) (Capture, error)
}

// Capture is a live acquisition. Stop finalizes the media; Release frees the
// device and may be called more than once.
type Capture interface {
	Stop() (Artifact, error)
	Release()
}

// Ticker is the subset of time.Ticker the recorder needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}
