package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/chatbae/internal/domain/entities"
	"github.com/username/chatbae/internal/domain/ports"
)

var (
	_ ports.ChatModelPort      = (*Adapter)(nil)
	_ ports.TitleGeneratorPort = (*Adapter)(nil)
)

type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeServer mimics the chat completions and models endpoints
type fakeServer struct {
	mu        sync.Mutex
	requests  []chatRequest
	fragments []string
	reply     string
	status    int
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		if f.status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			fmt.Fprint(w, `{"error":{"message":"quota exceeded","type":"server_error"}}`)
			return
		}

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, frag := range f.fragments {
				payload, _ := json.Marshal(map[string]any{
					"id":      "chatcmpl-1",
					"object":  "chat.completion.chunk",
					"created": 1,
					"model":   req.Model,
					"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": frag}}},
				})
				fmt.Fprintf(w, "data: %s\n\n", payload)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-2",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": f.reply},
				"finish_reason": "stop",
			}},
		})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"gemini-2.5-flash","object":"model"}]}`)
	})
	return mux
}

func (f *fakeServer) lastRequest() chatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestAdapter(t *testing.T, fake *fakeServer) *Adapter {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	adapter, err := NewAdapter(Config{
		BaseURL:    server.URL + "/v1/",
		APIKey:     "test-key",
		Model:      "gemini-2.5-flash",
		TitleModel: "gemini-2.5-flash-lite",
		MaxTokens:  256,
	})
	require.NoError(t, err)
	return adapter
}

func collect(t *testing.T, chunks <-chan ports.StreamChunk) (string, error) {
	t.Helper()
	var b strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return b.String(), chunk.Err
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), nil
}

func TestNewAdapterRequiresModel(t *testing.T) {
	_, err := NewAdapter(Config{})
	assert.Error(t, err)
}

func TestStreamReply(t *testing.T) {
	fake := &fakeServer{fragments: []string{"Hel", "lo"}}
	adapter := newTestAdapter(t, fake)

	chunks, err := adapter.StreamReply(context.Background(), ports.ReplyRequest{
		History: []entities.Message{
			{Role: entities.RoleUser, Content: "hi"},
			{Role: entities.RoleModel, Content: "hey there"},
		},
		Content: "any date ideas?",
	})
	require.NoError(t, err)

	text, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	req := fake.lastRequest()
	assert.True(t, req.Stream)
	assert.Equal(t, "gemini-2.5-flash", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, entities.PersonaFor(false).Content, req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "assistant", req.Messages[2].Role)
	assert.Equal(t, "user", req.Messages[3].Role)
	assert.Equal(t, "any date ideas?", req.Messages[3].Content)
}

func TestStreamReplyInformalPersona(t *testing.T) {
	fake := &fakeServer{fragments: []string{"bet"}}
	adapter := newTestAdapter(t, fake)

	chunks, err := adapter.StreamReply(context.Background(), ports.ReplyRequest{Content: "rizz me", Informal: true})
	require.NoError(t, err)
	_, err = collect(t, chunks)
	require.NoError(t, err)

	assert.Equal(t, entities.PersonaFor(true).Content, fake.lastRequest().Messages[0].Content)
}

func TestStreamReplyOpenError(t *testing.T) {
	fake := &fakeServer{status: http.StatusInternalServerError}
	adapter := newTestAdapter(t, fake)

	_, err := adapter.StreamReply(context.Background(), ports.ReplyRequest{Content: "hello"})
	assert.Error(t, err)
}

func TestGenerateTitle(t *testing.T) {
	fake := &fakeServer{reply: "  First Date Jitters \n"}
	adapter := newTestAdapter(t, fake)

	title, err := adapter.GenerateTitle(context.Background(), []entities.Message{
		{Role: entities.RoleUser, Content: "I'm nervous about my first date"},
		{Role: entities.RoleModel, Content: "That's normal!"},
	})
	require.NoError(t, err)
	assert.Equal(t, "First Date Jitters", title)

	req := fake.lastRequest()
	assert.False(t, req.Stream)
	assert.Equal(t, "gemini-2.5-flash-lite", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, `"I'm nervous about my first date"`)
}

func TestGenerateTitleWithoutUserMessage(t *testing.T) {
	adapter := newTestAdapter(t, &fakeServer{})

	_, err := adapter.GenerateTitle(context.Background(), []entities.Message{
		{Role: entities.RoleModel, Content: "hello"},
	})
	assert.Error(t, err)
}

func TestGenerateSummary(t *testing.T) {
	fake := &fakeServer{reply: "The user asked for icebreakers."}
	adapter := newTestAdapter(t, fake)

	summary, err := adapter.GenerateSummary(context.Background(), []entities.Message{
		{Role: entities.RoleUser, Content: "help with openers"},
		{Role: entities.RoleModel, Content: "ask about their hobbies"},
	})
	require.NoError(t, err)
	assert.Equal(t, "The user asked for icebreakers.", summary)

	content := fake.lastRequest().Messages[0].Content
	assert.Contains(t, content, "User: help with openers\nChatBae: ask about their hobbies")
}

func TestGenerateSummaryServerError(t *testing.T) {
	adapter := newTestAdapter(t, &fakeServer{status: http.StatusBadGateway})

	_, err := adapter.GenerateSummary(context.Background(), []entities.Message{
		{Role: entities.RoleUser, Content: "a"},
		{Role: entities.RoleModel, Content: "b"},
	})
	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	adapter := newTestAdapter(t, &fakeServer{})
	assert.NoError(t, adapter.Ping(context.Background()))
}
