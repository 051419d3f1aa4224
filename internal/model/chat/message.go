package chat

import "time"

// Role decides how a message is rendered and whether it can be spoken.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one immutable turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Turn is the wire form of a message sent to the model backend.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turns strips ids and timestamps from messages.
func Turns(messages []Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}
