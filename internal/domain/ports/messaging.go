package ports

import (
	"context"
	"time"

	"github.com/username/chatbae/internal/domain/entities"
)

// MessageHandler defines a function type for handling incoming messages
type MessageHandler func(ctx context.Context, subject string, data []byte) error

// MessagingPort defines the interface for event bus operations
type MessagingPort interface {
	// Publish sends a message to the specified subject
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishJSON publishes a JSON-serializable object to the subject
	PublishJSON(ctx context.Context, subject string, obj interface{}) error

	// Subscribe listens for messages on the specified subject
	Subscribe(ctx context.Context, subject string, handler MessageHandler) error

	// SubscribeQueue creates a queue subscription for load balancing
	SubscribeQueue(ctx context.Context, subject, queue string, handler MessageHandler) error

	// Unsubscribe stops listening to a subject
	Unsubscribe(ctx context.Context, subject string) error

	// Request sends a request and waits for a response
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close closes the messaging connection
	Close() error

	// Health check
	Ping() error
}

// Standard subjects used across the system
const (
	// Conversation events
	SubjectConversationUpdated = "conversation.%s.updated" // conversation_id
	SubjectConversationStream  = "conversation.%s.stream"  // conversation_id

	// Wildcards for consumers that follow every conversation
	SubjectAllConversationUpdates = "conversation.*.updated"
	SubjectAllConversationStreams = "conversation.*.stream"

	// Session-wide events (selection, profile, preferences)
	SubjectSessionUpdated = "session.updated"

	// System events
	SubjectSystemHealth = "system.health"
	SubjectSystemError  = "system.error"
)

// EventType names what happened in an Event
type EventType string

const (
	EventConversationCreated EventType = "conversation_created"
	EventConversationUpdated EventType = "conversation_updated"
	EventConversationDeleted EventType = "conversation_deleted"
	EventSelectionChanged    EventType = "selection_changed"
	EventProfileUpdated      EventType = "profile_updated"
	EventPreferencesUpdated  EventType = "preferences_updated"
	EventStreamPhase         EventType = "stream_phase"
	EventError               EventType = "error"
)

// Event is the payload published on the messaging subjects
type Event struct {
	Type           EventType              `json:"type"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Conversation   *entities.Conversation `json:"conversation,omitempty"`
	ActiveID       string                 `json:"active_id,omitempty"`
	Phase          string                 `json:"phase,omitempty"`
	Content        string                 `json:"content,omitempty"`
	Title          string                 `json:"title,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}
