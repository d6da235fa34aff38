package entities

import (
	"time"
)

// DefaultTitle is the placeholder title of a conversation that has not been
// named by the user or by the title generator yet.
const DefaultTitle = "New Chat"

// Conversation represents a titled, ordered sequence of messages
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	IsPinned  bool      `json:"is_pinned"`
	CreatedAt int64     `json:"created_at"`
}

// NewConversation creates an empty conversation with the default title
func NewConversation(id string, now time.Time) Conversation {
	return Conversation{
		ID:        id,
		Title:     DefaultTitle,
		Messages:  make([]Message, 0),
		CreatedAt: now.UnixMilli(),
	}
}

// MessageCount returns the number of messages in the conversation
func (c Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsEmpty returns true if the conversation has no messages
func (c Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// HasDefaultTitle reports whether the title is still the placeholder
func (c Conversation) HasDefaultTitle() bool {
	return c.Title == DefaultTitle
}

// LastMessage returns the trailing message, if any
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastActivity returns the timestamp of the trailing message, or the
// creation time for an empty conversation.
func (c Conversation) LastActivity() int64 {
	if last, ok := c.LastMessage(); ok {
		return last.Timestamp
	}
	return c.CreatedAt
}

// LastUserMessageIndex returns the index of the most recent user message or -1
func (c Conversation) LastUserMessageIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsFromUser() {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can never alias store internals
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}
