package export

import (
	"encoding/json"
	"fmt"

	"github.com/username/chatbae/internal/domain/entities"
)

// JSONExporter writes a self-describing document
type JSONExporter struct {
	assistantName string
}

type jsonDocument struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	IsPinned  bool          `json:"is_pinned"`
	CreatedAt int64         `json:"created_at"`
	Messages  []jsonMessage `json:"messages"`
}

type jsonMessage struct {
	Role      entities.MessageRole `json:"role"`
	Author    string               `json:"author"`
	Content   string               `json:"content"`
	Timestamp int64                `json:"timestamp"`
}

// Export renders conv as indented JSON
func (e *JSONExporter) Export(conv entities.Conversation, userName string) ([]byte, error) {
	doc := jsonDocument{
		ID:        conv.ID,
		Title:     conv.Title,
		IsPinned:  conv.IsPinned,
		CreatedAt: conv.CreatedAt,
		Messages:  make([]jsonMessage, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		doc.Messages = append(doc.Messages, jsonMessage{
			Role:      msg.Role,
			Author:    speaker(msg, userName, e.assistantName),
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return data, nil
}

// FileExtension implements Exporter
func (e *JSONExporter) FileExtension() string { return ".json" }

// MimeType implements Exporter
func (e *JSONExporter) MimeType() string { return "application/json" }
