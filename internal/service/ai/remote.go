package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
)

var (
	ErrBackendStatus   = errors.New("chat backend returned non-success status")
	ErrStreamTruncated = errors.New("chat stream ended without terminator")
)

const maxFrameSize = 1 << 20

// RemoteBackend talks to another instance of the chat endpoint over HTTP.
type RemoteBackend struct {
	endpoint   string
	httpClient *http.Client
}

// NewRemoteBackend targets endpoint, e.g. http://127.0.0.1:8080/api/chat.
func NewRemoteBackend(endpoint string, timeout time.Duration) *RemoteBackend {
	return &RemoteBackend{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type remoteRequest struct {
	Messages []chat.Turn `json:"messages"`
	Language string      `json:"language,omitempty"`
}

// Stream posts the history and relays text-delta frames until [DONE].
func (b *RemoteBackend) Stream(ctx context.Context, req chat.CompletionRequest) (*schema.StreamReader[*schema.Message], error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyHistory
	}

	body, err := json.Marshal(remoteRequest{Messages: req.Messages, Language: string(req.Language)})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrBackendStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer writer.Close()
		defer resp.Body.Close()

		if err := relayFrames(resp.Body, writer); err != nil {
			writer.Send(nil, err)
		}
	}()

	return reader, nil
}

// relayFrames copies frames into writer. It returns nil only when the
// terminator arrived or the reader side went away.
func relayFrames(body io.Reader, writer *schema.StreamWriter[*schema.Message]) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == chat.StreamDone {
			return nil
		}

		var frame chat.StreamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return fmt.Errorf("decode chat frame: %w", err)
		}

		switch frame.Type {
		case chat.FrameTextDelta:
			if frame.Delta == "" {
				continue
			}
			if closed := writer.Send(schema.AssistantMessage(frame.Delta, nil), nil); closed {
				return nil
			}
		case chat.FrameError:
			return fmt.Errorf("chat backend error: %s", frame.ErrorText)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return ErrStreamTruncated
}
