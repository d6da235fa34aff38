package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/username/chatbae/internal/domain/ports"
	"github.com/username/chatbae/internal/pkg/logutil"
)

// Message types sent to clients besides domain event types
const (
	MessageTypeConnected  = "connection_established"
	MessageTypeSubscribed = "subscribed"
	MessageTypePong       = "pong"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024

	sendBuffer = 256
)

// Message is what a client receives
type Message struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// clientRequest is what a client may send
type clientRequest struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// Client is one WebSocket connection. An empty room follows every
// conversation (sidebar feed); otherwise only the named conversation.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	room string
}

// Hub fans messaging events out to WebSocket clients
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	messaging  ports.MessagingPort
	upgrader   websocket.Upgrader
	logger     *logutil.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(messaging ports.MessagingPort, logger *logutil.Logger) *Hub {
	if logger == nil {
		logger = logutil.NewDiscardLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		messaging:  messaging,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Start subscribes to conversation, session and error events and runs the
// hub loop until ctx is cancelled
func (h *Hub) Start(ctx context.Context) error {
	subjects := []string{
		ports.SubjectAllConversationUpdates,
		ports.SubjectAllConversationStreams,
		ports.SubjectSessionUpdated,
		ports.SubjectSystemError,
	}
	if h.messaging != nil {
		for _, subject := range subjects {
			if err := h.messaging.Subscribe(ctx, subject, h.handleEvent); err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
			}
		}
	}

	go h.Run(ctx)
	h.logger.Info("WebSocket hub started", logutil.Fields{"subjects": subjects})
	return nil
}

// Run owns client registration until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.joinLocked(client, client.room)
			h.mu.Unlock()

			h.logger.Debug("WebSocket client connected", logutil.Fields{"client_id": client.id, "room": client.room})
			client.enqueue(Message{
				Type:           MessageTypeConnected,
				ConversationID: client.room,
				Data:           map[string]string{"client_id": client.id},
				Timestamp:      time.Now(),
			})

		case client := <-h.unregister:
			h.removeClient(client)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]struct{})
			h.rooms = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			h.logger.Info("WebSocket hub shutting down")
			return
		}
	}
}

func (h *Hub) joinLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.room = room
}

func (h *Hub) leaveLocked(client *Client) {
	if members, ok := h.rooms[client.room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, client.room)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.leaveLocked(client)
	close(client.send)
	h.logger.Debug("WebSocket client disconnected", logutil.Fields{"client_id": client.id})
}

// drop schedules removal of a client without blocking the caller
func (h *Hub) drop(client *Client) {
	go func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()
}

// move switches a client to another conversation
func (h *Hub) move(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	h.leaveLocked(client)
	h.joinLocked(client, room)
}

// handleEvent decodes a messaging event and routes it to interested clients
func (h *Hub) handleEvent(_ context.Context, subject string, data []byte) error {
	var ev ports.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal event from %s: %w", subject, err)
	}

	h.Dispatch(Message{
		Type:           string(ev.Type),
		ConversationID: ev.ConversationID,
		Data:           ev,
		Timestamp:      ev.Timestamp,
	})
	return nil
}

// Dispatch delivers msg to the feed room and, for conversation events, to
// clients watching that conversation. Events without a conversation reach
// every client.
func (h *Hub) Dispatch(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", logutil.Fields{"error": err.Error()})
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if msg.ConversationID == "" {
		for client := range h.clients {
			h.deliver(client, payload)
		}
		return
	}

	for client := range h.rooms[""] {
		h.deliver(client, payload)
	}
	for client := range h.rooms[msg.ConversationID] {
		h.deliver(client, payload)
	}
}

func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.logger.Warn("WebSocket client too slow, dropping", logutil.Fields{"client_id": client.id})
		h.drop(client)
	}
}

// GetStats returns connection statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	roomStats := make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		if room == "" {
			room = "feed"
		}
		roomStats[room] = len(members)
	}

	return map[string]interface{}{
		"total_connections": len(h.clients),
		"rooms":             roomStats,
		"timestamp":         time.Now(),
	}
}

// ConnectionCount returns the number of active WebSocket connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request. The optional conversation_id query
// parameter narrows the feed to one conversation.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logutil.Fields{"error": err.Error()})
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
		room: c.Query("conversation_id"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) enqueue(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	// send is closed once the hub forgets the client
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	c.hub.deliver(c, payload)
}

// readPump handles pings and room changes from the client
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", logutil.Fields{"client_id": c.id, "error": err.Error()})
			}
			return
		}

		var req clientRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}

		switch req.Type {
		case "ping":
			c.enqueue(Message{Type: MessageTypePong, Timestamp: time.Now()})
		case "subscribe":
			c.hub.move(c, req.ConversationID)
			c.enqueue(Message{Type: MessageTypeSubscribed, ConversationID: req.ConversationID, Timestamp: time.Now()})
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
