package entities

import (
	"github.com/google/uuid"
)

// NewConversationID creates a time-ordered unique identifier.
// UUIDv7 sorts by creation time, so ids are never reused and compare in
// creation order.
func NewConversationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
