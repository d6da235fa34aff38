package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/chatbae/internal/domain/ports"
)

// fakeMessaging records subscriptions so tests can push events by hand
type fakeMessaging struct {
	mu       sync.Mutex
	handlers map[string]ports.MessageHandler
}

func newFakeMessaging() *fakeMessaging {
	return &fakeMessaging{handlers: make(map[string]ports.MessageHandler)}
}

func (f *fakeMessaging) Publish(context.Context, string, []byte) error        { return nil }
func (f *fakeMessaging) PublishJSON(context.Context, string, interface{}) error { return nil }
func (f *fakeMessaging) SubscribeQueue(context.Context, string, string, ports.MessageHandler) error {
	return nil
}
func (f *fakeMessaging) Unsubscribe(context.Context, string) error { return nil }
func (f *fakeMessaging) Request(context.Context, string, []byte, time.Duration) ([]byte, error) {
	return nil, nil
}
func (f *fakeMessaging) Close() error { return nil }
func (f *fakeMessaging) Ping() error  { return nil }

func (f *fakeMessaging) Subscribe(_ context.Context, subject string, handler ports.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = handler
	return nil
}

func (f *fakeMessaging) emit(t *testing.T, subject string, ev ports.Event) {
	t.Helper()
	f.mu.Lock()
	handler := f.handlers[subject]
	f.mu.Unlock()
	require.NotNil(t, handler, "no subscription for %s", subject)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), subject, data))
}

func startHub(t *testing.T) (*Hub, *fakeMessaging, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	messaging := newFakeMessaging()
	hub := NewHub(messaging, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Start(ctx))

	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return hub, messaging, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := read(t, conn)
	require.Equal(t, MessageTypeConnected, msg.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_SubscribesToEventSubjects(t *testing.T) {
	_, messaging, _ := startHub(t)

	messaging.mu.Lock()
	defer messaging.mu.Unlock()
	for _, subject := range []string{
		ports.SubjectAllConversationUpdates,
		ports.SubjectAllConversationStreams,
		ports.SubjectSessionUpdated,
		ports.SubjectSystemError,
	} {
		assert.Contains(t, messaging.handlers, subject)
	}
}

func TestHub_FeedReceivesEveryConversation(t *testing.T) {
	hub, messaging, url := startHub(t)
	feed := dial(t, url)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	messaging.emit(t, ports.SubjectAllConversationUpdates, ports.Event{
		Type:           ports.EventConversationCreated,
		ConversationID: "abc",
	})

	msg := read(t, feed)
	assert.Equal(t, string(ports.EventConversationCreated), msg.Type)
	assert.Equal(t, "abc", msg.ConversationID)
}

func TestHub_RoomOnlyReceivesItsConversation(t *testing.T) {
	hub, messaging, url := startHub(t)
	room := dial(t, url+"?conversation_id=abc")
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	messaging.emit(t, ports.SubjectAllConversationStreams, ports.Event{
		Type:           ports.EventStreamPhase,
		ConversationID: "other",
		Phase:          "streaming",
	})
	messaging.emit(t, ports.SubjectAllConversationStreams, ports.Event{
		Type:           ports.EventStreamPhase,
		ConversationID: "abc",
		Phase:          "streaming",
		Content:        "Hel",
	})

	msg := read(t, room)
	assert.Equal(t, "abc", msg.ConversationID)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Hel", data["content"])
}

func TestHub_SessionEventsReachEveryone(t *testing.T) {
	hub, messaging, url := startHub(t)
	feed := dial(t, url)
	room := dial(t, url+"?conversation_id=abc")
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	messaging.emit(t, ports.SubjectSessionUpdated, ports.Event{Type: ports.EventSelectionChanged, ActiveID: "abc"})

	assert.Equal(t, string(ports.EventSelectionChanged), read(t, feed).Type)
	assert.Equal(t, string(ports.EventSelectionChanged), read(t, room).Type)

	stats := hub.GetStats()
	assert.Equal(t, 2, stats["total_connections"])
	rooms := stats["rooms"].(map[string]int)
	assert.Equal(t, 1, rooms["feed"])
	assert.Equal(t, 1, rooms["abc"])
}

func TestHub_PingAndSubscribe(t *testing.T) {
	hub, messaging, url := startHub(t)
	conn := dial(t, url+"?conversation_id=abc")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, MessageTypePong, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "conversation_id": "xyz"}))
	msg := read(t, conn)
	assert.Equal(t, MessageTypeSubscribed, msg.Type)
	assert.Equal(t, "xyz", msg.ConversationID)
	require.Eventually(t, func() bool {
		rooms := hub.GetStats()["rooms"].(map[string]int)
		return rooms["xyz"] == 1
	}, time.Second, 10*time.Millisecond)

	messaging.emit(t, ports.SubjectAllConversationUpdates, ports.Event{Type: ports.EventConversationUpdated, ConversationID: "xyz"})
	assert.Equal(t, "xyz", read(t, conn).ConversationID)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
