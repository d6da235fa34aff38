package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/username/chatbae/internal/domain/entities"
)

// Tokenizer provides token counting functionality
type Tokenizer struct {
	encoding     *tiktoken.Tiktoken
	encodingName string
}

// EncodingForModel maps a model name to the tiktoken encoding used to
// approximate its token counts.
func EncodingForModel(model string) string {
	switch {
	case strings.Contains(model, "gpt-4"), strings.Contains(model, "gpt-3.5"):
		return "cl100k_base"
	case strings.Contains(model, "gpt-3"):
		return "p50k_base"
	default:
		// Hosted and local models without a published encoding
		return "cl100k_base"
	}
}

// NewTokenizer creates a new tokenizer for the given model
func NewTokenizer(model string) (*Tokenizer, error) {
	encodingName := EncodingForModel(model)

	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding %s: %w", encodingName, err)
	}

	return &Tokenizer{
		encoding:     encoding,
		encodingName: encodingName,
	}, nil
}

// EncodingName returns the tiktoken encoding in use
func (t *Tokenizer) EncodingName() string {
	return t.encodingName
}

// CountTokens counts tokens in a text string
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// CountMessageTokens counts tokens in a message, including role and formatting overhead
func (t *Tokenizer) CountMessageTokens(message entities.Message) int {
	// Chat formats add roughly 4 tokens of framing per message
	const formatOverhead = 4
	return t.CountTokens(message.Content) + t.CountTokens(string(message.Role)) + formatOverhead
}

// CountConversationTokens counts total tokens in a conversation
func (t *Tokenizer) CountConversationTokens(messages []entities.Message, systemPrompt string) int {
	total := 0

	if systemPrompt != "" {
		total += t.CountTokens(systemPrompt)
		total += 4 // formatting overhead
	}

	for _, message := range messages {
		total += t.CountMessageTokens(message)
	}

	// Conversation-level framing
	total += 2

	return total
}

// GetTokenDetails returns detailed information about tokenization
func (t *Tokenizer) GetTokenDetails(text string) map[string]interface{} {
	tokens := t.encoding.Encode(text, nil, nil)

	perChar := 0.0
	if len(text) > 0 {
		perChar = float64(len(tokens)) / float64(len(text))
	}

	return map[string]interface{}{
		"token_count":     len(tokens),
		"character_count": len(text),
		"tokens_per_char": perChar,
		"encoding":        t.encodingName,
	}
}
