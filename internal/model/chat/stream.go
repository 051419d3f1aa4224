package chat

// Frame types of the chat endpoint's event stream.
const (
	FrameTextDelta = "text-delta"
	FrameError     = "error"
)

// StreamDone terminates a successful event stream.
const StreamDone = "[DONE]"

// StreamFrame is one `data:` payload of the chat endpoint.
type StreamFrame struct {
	Type      string `json:"type"`
	Delta     string `json:"delta,omitempty"`
	ErrorText string `json:"errorText,omitempty"`
}
