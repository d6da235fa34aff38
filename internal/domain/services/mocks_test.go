package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/username/chatbae/internal/domain/entities"
	"github.com/username/chatbae/internal/domain/ports"
	"github.com/username/chatbae/internal/domain/search"
	"github.com/username/chatbae/internal/pkg/logutil"
)

// MockKV is an in-memory key/value store
type MockKV struct {
	mu      sync.Mutex
	data    map[string]string
	saves   map[string]int
	loadErr map[string]error
	saveErr error

	// When set, Save signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

var _ ports.KeyValuePort = (*MockKV)(nil)

func NewMockKV() *MockKV {
	return &MockKV{
		data:    make(map[string]string),
		saves:   make(map[string]int),
		loadErr: make(map[string]error),
	}
}

func (m *MockKV) Load(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadErr[key]; err != nil {
		return "", false, err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MockKV) Save(ctx context.Context, key, value string) error {
	m.mu.Lock()
	entered, release := m.entered, m.release
	m.mu.Unlock()
	if release != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[key] = value
	m.saves[key]++
	return nil
}

func (m *MockKV) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// BlockSaves holds every Save until the returned release func is called
func (m *MockKV) BlockSaves() (entered <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entered = make(chan struct{}, 1)
	m.release = make(chan struct{})
	var once sync.Once
	ch := m.release
	return m.entered, func() { once.Do(func() { close(ch) }) }
}

func (m *MockKV) Ping(ctx context.Context) error { return nil }

func (m *MockKV) Close() error { return nil }

func (m *MockKV) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MockKV) SaveCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[key]
}

// MockMessaging records published events
type MockMessaging struct {
	mu        sync.Mutex
	published []publishedEvent
}

type publishedEvent struct {
	Subject string
	Event   ports.Event
}

var _ ports.MessagingPort = (*MockMessaging)(nil)

func (m *MockMessaging) Publish(ctx context.Context, subject string, data []byte) error {
	var ev ports.Event
	_ = json.Unmarshal(data, &ev)
	m.mu.Lock()
	m.published = append(m.published, publishedEvent{Subject: subject, Event: ev})
	m.mu.Unlock()
	return nil
}

func (m *MockMessaging) PublishJSON(ctx context.Context, subject string, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return m.Publish(ctx, subject, data)
}

func (m *MockMessaging) Subscribe(ctx context.Context, subject string, handler ports.MessageHandler) error {
	return nil
}

func (m *MockMessaging) SubscribeQueue(ctx context.Context, subject, queue string, handler ports.MessageHandler) error {
	return nil
}

func (m *MockMessaging) Unsubscribe(ctx context.Context, subject string) error { return nil }

func (m *MockMessaging) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (m *MockMessaging) Close() error { return nil }

func (m *MockMessaging) Ping() error { return nil }

func (m *MockMessaging) Subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.published))
	for i, p := range m.published {
		out[i] = p.Subject
	}
	return out
}

func (m *MockMessaging) Events(subject string) []ports.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.Event
	for _, p := range m.published {
		if p.Subject == subject {
			out = append(out, p.Event)
		}
	}
	return out
}

// MockChatModel replays scripted fragments
type MockChatModel struct {
	mu        sync.Mutex
	requests  []ports.ReplyRequest
	fragments []string
	openErr   error
	streamErr error

	// When set, every fragment after the first waits for a value on gate.
	gate chan struct{}
}

var _ ports.ChatModelPort = (*MockChatModel)(nil)

func (m *MockChatModel) StreamReply(ctx context.Context, req ports.ReplyRequest) (<-chan ports.StreamChunk, error) {
	m.mu.Lock()
	req.History = append([]entities.Message(nil), req.History...)
	m.requests = append(m.requests, req)
	fragments := append([]string(nil), m.fragments...)
	openErr, streamErr, gate := m.openErr, m.streamErr, m.gate
	m.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}

	ch := make(chan ports.StreamChunk)
	go func() {
		defer close(ch)
		for i, f := range fragments {
			if gate != nil && i > 0 {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- ports.StreamChunk{Text: f}:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil {
			select {
			case ch <- ports.StreamChunk{Err: streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func (m *MockChatModel) Ping(ctx context.Context) error { return nil }

func (m *MockChatModel) Requests() []ports.ReplyRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.ReplyRequest(nil), m.requests...)
}

// MockTitles returns canned titles and summaries
type MockTitles struct {
	mu         sync.Mutex
	title      string
	titleErr   error
	summary    string
	summaryErr error
	titleCalls int
}

var _ ports.TitleGeneratorPort = (*MockTitles)(nil)

func (m *MockTitles) GenerateTitle(ctx context.Context, messages []entities.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titleCalls++
	return m.title, m.titleErr
}

func (m *MockTitles) GenerateSummary(ctx context.Context, messages []entities.Message) (string, error) {
	return m.summary, m.summaryErr
}

func (m *MockTitles) TitleCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.titleCalls
}

// wordCounter counts one token per whitespace-separated word
type wordCounter struct{}

var _ ports.TokenCounter = wordCounter{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func (wordCounter) CountMessageTokens(m entities.Message) int { return len(strings.Fields(m.Content)) }

// newTestSession builds a session over kv with deterministic ids and clock
func newTestSession(t *testing.T, kv *MockKV, messaging ports.MessagingPort) *ChatSession {
	t.Helper()
	logger := logutil.NewDiscardLogger()
	repo := NewStateRepository(kv, logger)
	cs := NewChatSession(context.Background(), repo, messaging, search.NewRanker(search.ModeTokens, search.DefaultMaxFuzzyDistance), nil, logger)

	var mu sync.Mutex
	seq := 0
	clock := time.UnixMilli(1_700_000_000_000)
	cs.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("conv-%d", seq)
	}
	cs.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return cs
}
