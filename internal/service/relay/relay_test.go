package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/sos"
)

type chanSender struct {
	frames chan Frame
}

func newChanSender() *chanSender {
	return &chanSender{frames: make(chan Frame, 16)}
}

func (s *chanSender) Send(frame Frame) error {
	s.frames <- frame
	return nil
}

func (s *chanSender) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame sent")
		return Frame{}
	}
}

func field(t *testing.T, f Frame, key string) any {
	t.Helper()
	data, ok := f.Data.(map[string]any)
	require.True(t, ok, "frame data is %T", f.Data)
	return data[key]
}

func TestPublishWithoutClient(t *testing.T) {
	r := New("s1", time.Second)
	assert.False(t, r.Connected())
	assert.ErrorIs(t, r.Publish(FrameEvent, nil), ErrNotConnected)
}

func TestNextUtterance(t *testing.T) {
	r := New("s1", time.Second)
	sender := newChanSender()
	r.Attach(sender)

	got := make(chan speech.AudioClip, 1)
	go func() {
		clip, err := r.NextUtterance(context.Background())
		assert.NoError(t, err)
		got <- clip
	}()

	start := sender.next(t)
	assert.Equal(t, FrameListen, start.Type)
	assert.Equal(t, "s1", start.SessionID)
	assert.Equal(t, "start", field(t, start, "action"))

	r.HandleAudio([]byte("abc"), "webm", false)
	r.HandleAudio([]byte("def"), "", true)

	clip := <-got
	assert.Equal(t, "abcdef", string(clip.Data))
	assert.Equal(t, "webm", clip.Format)
}

func TestNextUtteranceCancelled(t *testing.T) {
	r := New("s1", time.Second)
	sender := newChanSender()
	r.Attach(sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.NextUtterance(ctx)
		done <- err
	}()

	sender.next(t)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "stop", field(t, sender.next(t), "action"))
}

func TestPlayWaitsForEnd(t *testing.T) {
	r := New("s1", time.Second)
	sender := newChanSender()
	r.Attach(sender)

	done := make(chan error, 1)
	go func() {
		done <- r.Play(context.Background(), speech.AudioClip{Data: []byte("mp3"), Format: "mp3"}, speech.NewUtterance("hi", "en-US"))
	}()

	frame := sender.next(t)
	assert.Equal(t, FrameTTS, frame.Type)
	assert.Equal(t, "bXAz", field(t, frame, "audioData"))
	id := field(t, frame, "id").(string)

	select {
	case <-done:
		t.Fatal("play returned before playback ended")
	case <-time.After(20 * time.Millisecond):
	}

	r.HandlePlaybackEnded(id)
	assert.NoError(t, <-done)
}

func TestPlayCancelStopsClient(t *testing.T) {
	r := New("s1", time.Second)
	sender := newChanSender()
	r.Attach(sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Play(ctx, speech.AudioClip{Data: []byte("x")}, speech.NewUtterance("hi", "en-US"))
	}()

	id := field(t, sender.next(t), "id")
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	stop := sender.next(t)
	assert.Equal(t, "stop", field(t, stop, "action"))
	assert.Equal(t, id, field(t, stop, "id"))
}

func TestAcquireGrantedThenStop(t *testing.T) {
	r := New("s1", time.Second)
	sender := newChanSender()
	r.Attach(sender)

	type result struct {
		capture sos.Capture
		err     error
	}
	acquired := make(chan result, 1)
	go func() {
		c, err := r.Acquire(context.Background(), sos.DefaultConstraints())
		acquired <- result{c, err}
	}()

	request := sender.next(t)
	assert.Equal(t, FrameCapture, request.Type)
	assert.Equal(t, "request", field(t, request, "action"))
	assert.Equal(t, sos.DefaultConstraints(), field(t, request, "constraints"))
	id := field(t, request, "id").(string)

	r.HandleCaptureReply(id, true, "")
	res := <-acquired
	require.NoError(t, res.err)

	_, err := r.Acquire(context.Background(), sos.DefaultConstraints())
	assert.ErrorIs(t, err, ErrCaptureBusy)

	r.HandleCaptureChunk(id, []byte("part1-"), "video/webm", false)

	artifactCh := make(chan sos.Artifact, 1)
	go func() {
		artifact, err := res.capture.Stop()
		assert.NoError(t, err)
		artifactCh <- artifact
	}()

	assert.Equal(t, "stop", field(t, sender.next(t), "action"))
	r.HandleCaptureChunk(id, []byte("part2"), "", true)

	artifact := <-artifactCh
	assert.Equal(t, "part1-part2", string(artifact.Data))
	assert.Equal(t, "video/webm", artifact.MimeType)

	res.capture.Release()
	res.capture.Release()
	assert.Equal(t, "release", field(t, sender.next(t), "action"))
	select {
	case f := <-sender.frames:
		t.Fatalf("unexpected frame after second release: %+v", f)
	default:
	}
}

func TestAcquireDenied(t *testing.T) {
	r := New("s1", time.Second)
	sender := newChanSender()
	r.Attach(sender)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Acquire(context.Background(), sos.DefaultConstraints())
		errCh <- err
	}()

	id := field(t, sender.next(t), "id").(string)
	r.HandleCaptureReply(id, false, "NotAllowedError")

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, "NotAllowedError", err.Error())

	// device is free again
	go func() {
		_, err := r.Acquire(context.Background(), sos.DefaultConstraints())
		errCh <- err
	}()
	id = field(t, sender.next(t), "id").(string)
	r.HandleCaptureReply(id, true, "")
	assert.NoError(t, <-errCh)
}

func TestAcquireTimesOut(t *testing.T) {
	r := New("s1", 20*time.Millisecond)
	sender := newChanSender()
	r.Attach(sender)

	_, err := r.Acquire(context.Background(), sos.DefaultConstraints())
	require.Error(t, err)
	assert.Equal(t, "request", field(t, sender.next(t), "action"))
	assert.Equal(t, "release", field(t, sender.next(t), "action"))
}

func TestAcquireWithoutClient(t *testing.T) {
	_, err := New("s1", time.Second).Acquire(context.Background(), sos.DefaultConstraints())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDetachFailsPending(t *testing.T) {
	r := New("s1", time.Second)
	sender := newChanSender()
	r.Attach(sender)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Acquire(context.Background(), sos.DefaultConstraints())
		errCh <- err
	}()
	sender.next(t)

	r.Detach(sender)
	assert.True(t, errors.Is(<-errCh, ErrDetached))
	assert.False(t, r.Connected())
}

func TestDetachFailsPendingUtterance(t *testing.T) {
	r := New("s1", time.Second)
	sender := newChanSender()
	r.Attach(sender)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.NextUtterance(context.Background())
		errCh <- err
	}()
	frame := sender.next(t)
	assert.Equal(t, FrameListen, frame.Type)

	r.Detach(sender)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDetached)
	case <-time.After(time.Second):
		t.Fatal("utterance wait survived detach")
	}
}

func TestReattachFailsUtteranceOfPreviousClient(t *testing.T) {
	r := New("s1", time.Second)
	first := newChanSender()
	r.Attach(first)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.NextUtterance(context.Background())
		errCh <- err
	}()
	first.next(t)

	r.Attach(newChanSender())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDetached)
	case <-time.After(time.Second):
		t.Fatal("utterance wait survived client replacement")
	}
	assert.True(t, r.Connected())
}
