package models

import "fmt"

// MessageRole distinguishes the two sides of a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Conversation groups an append-only sequence of messages for one user.
type Conversation struct {
	base
	UserID string
}

// NewConversation creates a conversation owned by a user.
func NewConversation(sequence int, userID string) *Conversation {
	return &Conversation{base: newBase(sequence), UserID: userID}
}

func (c *Conversation) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("conversation requires a user id")
	}
	return nil
}

// Message is one turn in a conversation. An assistant message optionally
// carries the playlist synthesized for that turn. Messages are never
// rewritten or deleted.
type Message struct {
	base
	ConversationID string
	Role           MessageRole
	Content        string
	PlaylistID     string
}

// NewMessage creates a message for a conversation turn.
func NewMessage(sequence int, conversationID string, role MessageRole, content string) *Message {
	return &Message{
		base:           newBase(sequence),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
}

func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return fmt.Errorf("message requires a conversation id")
	}
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return fmt.Errorf("message role %q is not valid", m.Role)
	}
	return nil
}
