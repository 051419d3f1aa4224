package chat

import (
	"time"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
)

// Session is a point-in-time view of a conversation.
type Session struct {
	ID               string        `json:"id"`
	Messages         []Message     `json:"messages"`
	PendingInput     string        `json:"pendingInput"`
	AwaitingResponse bool          `json:"isAwaitingResponse"`
	Language         language.Code `json:"language"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// CompletionRequest is the payload accepted by the chat endpoint.
type CompletionRequest struct {
	Messages []Turn        `json:"messages"`
	Language language.Code `json:"language"`
}
