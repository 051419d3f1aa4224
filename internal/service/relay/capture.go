package relay

import (
	"bytes"
	"sync"
	"time"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/recording"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/sos"
)

type captureReply struct {
	err error
}

// remoteCapture accumulates media recorded by the client.
type remoteCapture struct {
	relay   *Relay
	id      string
	replied chan captureReply

	mu        sync.Mutex
	data      bytes.Buffer
	mimeType  string
	final     chan struct{}
	finalOnce sync.Once
	released  bool
}

func (c *remoteCapture) append(chunk []byte, mimeType string, final bool) {
	c.mu.Lock()
	if len(chunk) > 0 {
		c.data.Write(chunk)
	}
	if mimeType != "" {
		c.mimeType = mimeType
	}
	c.mu.Unlock()

	if final {
		c.markFinal()
	}
}

func (c *remoteCapture) markFinal() {
	c.finalOnce.Do(func() { close(c.final) })
}

// Stop asks the client to finish recording and waits for the last chunk.
func (c *remoteCapture) Stop() (sos.Artifact, error) {
	if err := c.relay.Publish(FrameCapture, map[string]any{"action": "stop", "id": c.id}); err != nil {
		c.markFinal()
	}

	timer := time.NewTimer(c.relay.stopWait)
	defer timer.Stop()
	select {
	case <-c.final:
	case <-timer.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	mimeType := c.mimeType
	if mimeType == "" {
		mimeType = recording.DefaultMimeType
	}
	return sos.Artifact{Data: bytes.Clone(c.data.Bytes()), MimeType: mimeType}, nil
}

// Release frees the device on the client. Safe to call repeatedly.
func (c *remoteCapture) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.mu.Unlock()

	c.relay.clearCapture(c)
	_ = c.relay.Publish(FrameCapture, map[string]any{"action": "release", "id": c.id})
}
