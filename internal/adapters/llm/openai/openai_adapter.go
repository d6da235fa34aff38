package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/username/chatbae/internal/domain/entities"
	"github.com/username/chatbae/internal/domain/ports"
)

const (
	titlePromptFormat = "Generate a very short, concise title (3-5 words max) for a conversation that starts with this message: \"%s\". " +
		"Just return the title itself, without any prefixes like \"Title:\" or quotation marks."
	summaryPrompt = "Summarize the following dating-coach conversation in one short sentence. " +
		"Mention what the user wanted help with and the main advice given. Return only the sentence.\n\n"

	streamBuffer = 16
)

// Config selects the endpoint and sampling parameters
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	TitleModel    string
	MaxTokens     int
	Temperature   float64
	AssistantName string
}

// Adapter implements ports.ChatModelPort and ports.TitleGeneratorPort against
// any OpenAI-compatible chat completions API
type Adapter struct {
	client        *openai.Client
	model         string
	titleModel    string
	maxTokens     int
	temperature   float32
	assistantName string
}

// NewAdapter creates a new OpenAI-compatible model adapter
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	titleModel := cfg.TitleModel
	if titleModel == "" {
		titleModel = cfg.Model
	}
	name := cfg.AssistantName
	if name == "" {
		name = "ChatBae"
	}

	return &Adapter{
		client:        openai.NewClientWithConfig(config),
		model:         cfg.Model,
		titleModel:    titleModel,
		maxTokens:     cfg.MaxTokens,
		temperature:   float32(cfg.Temperature),
		assistantName: name,
	}, nil
}

// StreamReply opens a streaming completion. Opening errors are returned
// directly; errors after the first fragment arrive as the final chunk.
func (a *Adapter) StreamReply(ctx context.Context, request ports.ReplyRequest) (<-chan ports.StreamChunk, error) {
	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    a.convertMessages(request),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		Stream:      true,
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming completion: %w", err)
	}

	chunks := make(chan ports.StreamChunk, streamBuffer)
	go func() {
		defer close(chunks)
		defer stream.Close()

		send := func(chunk ports.StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ports.StreamChunk{Err: fmt.Errorf("streaming error: %w", err)})
				return
			}
			if len(response.Choices) == 0 {
				continue
			}

			delta := response.Choices[0].Delta.Content
			if delta != "" && !send(ports.StreamChunk{Text: delta}) {
				return
			}
		}
	}()

	return chunks, nil
}

// GenerateTitle asks for a short label based on the opening user message
func (a *Adapter) GenerateTitle(ctx context.Context, messages []entities.Message) (string, error) {
	first := ""
	for _, msg := range messages {
		if msg.IsFromUser() {
			first = msg.Content
			break
		}
	}
	if first == "" {
		return "", errors.New("no user message to title")
	}

	return a.complete(ctx, fmt.Sprintf(titlePromptFormat, first))
}

// GenerateSummary asks for a one-sentence synopsis of the transcript
func (a *Adapter) GenerateSummary(ctx context.Context, messages []entities.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages to summarize")
	}
	return a.complete(ctx, summaryPrompt+a.transcript(messages))
}

func (a *Adapter) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.titleModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 64,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from API")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Ping lists models as a connectivity test
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.client.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM ping failed: %w", err)
	}
	return nil
}

// convertMessages prepends the persona and appends the new user content
func (a *Adapter) convertMessages(request ports.ReplyRequest) []openai.ChatCompletionMessage {
	persona := entities.PersonaFor(request.Informal)

	result := make([]openai.ChatCompletionMessage, 0, len(request.History)+2)
	result = append(result, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: persona.Content,
	})
	for _, msg := range request.History {
		result = append(result, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Content,
		})
	}
	result = append(result, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: request.Content,
	})
	return result
}

func (a *Adapter) transcript(messages []entities.Message) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		if msg.IsFromUser() {
			b.WriteString("User: ")
		} else {
			b.WriteString(a.assistantName + ": ")
		}
		b.WriteString(msg.Content)
	}
	return b.String()
}

func convertRole(role entities.MessageRole) string {
	if role == entities.RoleModel {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}
