package entities

import (
	"time"
)

// MessageRole represents the author of a message in a conversation
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleModel MessageRole = "model"
)

// IsValid reports whether the role is one of the known roles
func (r MessageRole) IsValid() bool {
	return r == RoleUser || r == RoleModel
}

// Message represents a single message in a conversation.
// Timestamp is expressed in Unix milliseconds.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
}

// NewUserMessage creates a user message stamped with the given time
func NewUserMessage(content string, now time.Time) Message {
	return Message{
		Role:      RoleUser,
		Content:   content,
		Timestamp: now.UnixMilli(),
	}
}

// NewModelMessage creates a model message stamped with the given time
func NewModelMessage(content string, now time.Time) Message {
	return Message{
		Role:      RoleModel,
		Content:   content,
		Timestamp: now.UnixMilli(),
	}
}

// IsFromUser returns true if the message is from the user
func (m Message) IsFromUser() bool {
	return m.Role == RoleUser
}

// IsFromModel returns true if the message is from the model
func (m Message) IsFromModel() bool {
	return m.Role == RoleModel
}

// Time returns the message timestamp as a time.Time
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}
