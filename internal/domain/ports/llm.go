package ports

import (
	"context"

	"github.com/username/chatbae/internal/domain/entities"
)

// ChatModelPort defines the interface to the hosted language model
type ChatModelPort interface {
	// StreamReply submits the history and the new user content and returns a
	// channel of reply fragments in delivery order. The channel is closed when
	// the reply is complete. A chunk carrying Err is the last one sent.
	StreamReply(ctx context.Context, request ReplyRequest) (<-chan StreamChunk, error)

	// Health check
	Ping(ctx context.Context) error
}

// ReplyRequest is what the coordinator sends to the model
type ReplyRequest struct {
	History  []entities.Message `json:"history"`
	Content  string             `json:"content"`
	Informal bool               `json:"informal"`
}

// StreamChunk is one fragment of a streamed reply
type StreamChunk struct {
	Text string `json:"text"`
	Err  error  `json:"-"`
}

// TitleGeneratorPort produces labels and synopses for a transcript
type TitleGeneratorPort interface {
	// GenerateTitle returns a short label for the conversation
	GenerateTitle(ctx context.Context, messages []entities.Message) (string, error)

	// GenerateSummary returns a one-sentence synopsis of the conversation
	GenerateSummary(ctx context.Context, messages []entities.Message) (string, error)
}

// TokenCounter estimates the token cost of messages sent to the model
type TokenCounter interface {
	CountTokens(text string) int
	CountMessageTokens(message entities.Message) int
}
