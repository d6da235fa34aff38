package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/username/chatbae/internal/adapters/api/websocket"
	"github.com/username/chatbae/internal/domain/entities"
	"github.com/username/chatbae/internal/domain/metrics"
	"github.com/username/chatbae/internal/domain/ports"
	"github.com/username/chatbae/internal/domain/services"
	"github.com/username/chatbae/internal/domain/store"
	"github.com/username/chatbae/internal/export"
	"github.com/username/chatbae/internal/pkg/constants"
	"github.com/username/chatbae/internal/pkg/httputil"
	"github.com/username/chatbae/internal/pkg/logutil"
	"github.com/username/chatbae/pkg/tokenizer"
)

const (
	// sseBuffer bounds the events queued between the stream goroutine and
	// the response writer. Streaming events carry the accumulated text, so
	// dropping one when the client lags loses nothing.
	sseBuffer = 64

	// maxRecentMetrics caps ?recent= on the system metrics route
	maxRecentMetrics = 500
)

var (
	errBlankTitle  = errors.New("title must not be blank")
	errInvalidSort = errors.New("unknown sort_order")
	errNoTokenizer = errors.New("token counting is not configured")
	errStorageDown = errors.New("storage unavailable")
)

// Dependencies are the collaborators the API serves from. Messaging,
// Tokenizer and Hub may be nil.
type Dependencies struct {
	Session     *services.ChatSession
	Coordinator *services.StreamCoordinator
	Storage     ports.KeyValuePort
	Messaging   ports.MessagingPort
	Model       ports.ChatModelPort
	Tokenizer   *tokenizer.Tokenizer
	Metrics     *metrics.Collector
	Hub         *websocket.Hub
	Logger      *logutil.Logger
}

// Config holds API presentation settings
type Config struct {
	AssistantName string
	Middleware    httputil.MiddlewareConfig
}

// APIHandlers contains all HTTP API handlers
type APIHandlers struct {
	session     *services.ChatSession
	coordinator *services.StreamCoordinator
	storage     ports.KeyValuePort
	messaging   ports.MessagingPort
	model       ports.ChatModelPort
	tokenizer   *tokenizer.Tokenizer
	metrics     *metrics.Collector
	wsHub       *websocket.Hub
	logger      *logutil.Logger
	config      Config
	startedAt   time.Time
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(deps Dependencies, config Config) *APIHandlers {
	if deps.Logger == nil {
		deps.Logger = logutil.NewDefaultLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}
	if config.AssistantName == "" {
		config.AssistantName = export.DefaultAssistantName
	}
	return &APIHandlers{
		session:     deps.Session,
		coordinator: deps.Coordinator,
		storage:     deps.Storage,
		messaging:   deps.Messaging,
		model:       deps.Model,
		tokenizer:   deps.Tokenizer,
		metrics:     deps.Metrics,
		wsHub:       deps.Hub,
		logger:      deps.Logger,
		config:      config,
		startedAt:   time.Now(),
	}
}

// SetupRoutes configures all API routes
func (h *APIHandlers) SetupRoutes(r *gin.Engine) {
	r.Use(httputil.CORSMiddleware(h.config.Middleware))
	r.Use(httputil.TimeoutMiddleware(h.config.Middleware.Timeouts))
	r.Use(httputil.RequestLogger(h.logger))
	r.Use(httputil.MetricsMiddleware(h.metrics))

	r.GET("/health", h.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{})))
	if h.wsHub != nil {
		r.GET("/ws", h.wsHub.HandleWebSocket)
	}

	api := r.Group("/api/v1")
	{
		// Conversations
		api.GET("/conversations", h.listConversations)
		api.POST("/conversations", h.createConversation)
		api.GET("/conversations/:id", h.getConversation)
		api.PATCH("/conversations/:id", h.renameConversation)
		api.DELETE("/conversations/:id", h.deleteConversation)
		api.POST("/conversations/:id/pin", h.togglePin)
		api.POST("/conversations/:id/select", h.selectConversation)
		api.DELETE("/selection", h.clearSelection)

		// Messages
		api.POST("/messages", h.sendToActive)
		api.POST("/conversations/:id/messages", h.sendMessage)
		api.PUT("/conversations/:id/messages/:index", h.editMessage)
		api.POST("/conversations/:id/regenerate", h.regenerate)

		// Derived views
		api.GET("/conversations/:id/summary", h.summarize)
		api.GET("/conversations/:id/export", h.exportConversation)
		api.GET("/conversations/:id/share", h.shareConversation)
		api.GET("/conversations/:id/tokens", h.countTokens)

		// Profile and preferences
		api.GET("/profile", h.getProfile)
		api.PUT("/profile", h.updateProfile)
		api.GET("/avatars", h.listAvatars)
		api.GET("/preferences", h.getPreferences)
		api.PUT("/preferences", h.updatePreferences)

		// System
		api.GET("/system/health", h.getSystemHealth)
		api.GET("/system/metrics", h.getSystemMetrics)
		api.GET("/system/connections", h.getSystemConnections)
	}
}

// Health check endpoint
func (h *APIHandlers) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   constants.ServiceName,
		"version":   constants.ServiceVersion,
	}

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationHealth)
	defer cancel()

	if err := h.storage.Ping(ctx); err != nil {
		status["status"] = "degraded"
		status["storage"] = "error"
		status["storage_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	status["storage"] = "ok"

	if h.messaging != nil {
		if err := h.messaging.Ping(); err != nil {
			status["messaging"] = "error"
			status["messaging_error"] = err.Error()
		} else {
			status["messaging"] = "ok"
		}
	} else {
		status["messaging"] = "disabled"
	}

	c.JSON(http.StatusOK, status)
}

// respondError maps domain errors onto HTTP statuses
func (h *APIHandlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrConversationNotFound):
		httputil.NotFoundError(c, err)
	case errors.Is(err, store.ErrInvalidIndex),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrNotUserMessage),
		errors.Is(err, services.ErrNothingToRegenerate):
		httputil.BadRequestError(c, err)
	case errors.Is(err, services.ErrStreamInProgress):
		httputil.ConflictError(c, err)
	default:
		c.Error(err)
		httputil.InternalServerError(c, err)
	}
}

func notFound(id string) error {
	return fmt.Errorf("conversation %q: %w", id, store.ErrConversationNotFound)
}

// lookup resolves the :id parameter or writes a 404
func (h *APIHandlers) lookup(c *gin.Context) (entities.Conversation, bool) {
	id := c.Param("id")
	conv, ok := h.session.Conversation(id)
	if !ok {
		h.respondError(c, notFound(id))
		return entities.Conversation{}, false
	}
	return conv, true
}

// Conversation handlers

type conversationView struct {
	entities.Conversation
	Active    bool `json:"active"`
	Streaming bool `json:"streaming"`
}

func (h *APIHandlers) view(conv entities.Conversation) conversationView {
	return conversationView{
		Conversation: conv,
		Active:       conv.ID == h.session.ActiveID(),
		Streaming:    h.coordinator.IsStreaming(conv.ID),
	}
}

func (h *APIHandlers) listConversations(c *gin.Context) {
	query := c.Query("q")
	conversations := h.session.Search(query)

	httputil.SuccessResponseWithMeta(c, conversations, gin.H{
		"total":     len(conversations),
		"query":     query,
		"active_id": h.session.ActiveID(),
	})
}

func (h *APIHandlers) createConversation(c *gin.Context) {
	conv := h.session.CreateConversation(c.Request.Context())
	httputil.CreatedResponse(c, h.view(conv))
}

func (h *APIHandlers) getConversation(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	httputil.SuccessResponse(c, h.view(conv))
}

func (h *APIHandlers) renameConversation(c *gin.Context) {
	id := c.Param("id")

	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	if !h.session.Contains(id) {
		h.respondError(c, notFound(id))
		return
	}
	if !h.session.RenameConversation(c.Request.Context(), id, req.Title) {
		httputil.BadRequestError(c, errBlankTitle)
		return
	}

	conv, _ := h.session.Conversation(id)
	httputil.SuccessResponse(c, h.view(conv))
}

func (h *APIHandlers) deleteConversation(c *gin.Context) {
	id := c.Param("id")
	if !h.session.DeleteConversation(c.Request.Context(), id) {
		h.respondError(c, notFound(id))
		return
	}
	httputil.SuccessResponse(c, gin.H{
		"deleted":   id,
		"active_id": h.session.ActiveID(),
	})
}

func (h *APIHandlers) togglePin(c *gin.Context) {
	id := c.Param("id")
	if !h.session.TogglePin(c.Request.Context(), id) {
		h.respondError(c, notFound(id))
		return
	}
	conv, _ := h.session.Conversation(id)
	httputil.SuccessResponse(c, h.view(conv))
}

func (h *APIHandlers) selectConversation(c *gin.Context) {
	id := c.Param("id")
	if !h.session.SelectConversation(c.Request.Context(), id) {
		h.respondError(c, notFound(id))
		return
	}
	httputil.SuccessResponse(c, gin.H{"active_id": id})
}

func (h *APIHandlers) clearSelection(c *gin.Context) {
	h.session.ClearSelection(c.Request.Context())
	httputil.SuccessResponse(c, gin.H{"active_id": ""})
}

// Message handlers

type messageRequest struct {
	Content string `json:"content"`
}

// starter begins a reply with the given observer
type starter func(ctx context.Context, observer services.StreamObserver) (*services.Stream, error)

func (h *APIHandlers) sendToActive(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}
	h.reply(c, func(ctx context.Context, obs services.StreamObserver) (*services.Stream, error) {
		return h.coordinator.Send(ctx, services.SendRequest{Content: req.Content}, obs)
	})
}

func (h *APIHandlers) sendMessage(c *gin.Context) {
	id := c.Param("id")

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}
	if !h.session.Contains(id) {
		h.respondError(c, notFound(id))
		return
	}
	h.reply(c, func(ctx context.Context, obs services.StreamObserver) (*services.Stream, error) {
		return h.coordinator.Send(ctx, services.SendRequest{ConversationID: id, Content: req.Content}, obs)
	})
}

func (h *APIHandlers) editMessage(c *gin.Context) {
	id := c.Param("id")
	index, err := httputil.IndexParam(c, "index")
	if err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}
	h.reply(c, func(ctx context.Context, obs services.StreamObserver) (*services.Stream, error) {
		return h.coordinator.Edit(ctx, services.EditRequest{ConversationID: id, Index: index, Content: req.Content}, obs)
	})
}

func (h *APIHandlers) regenerate(c *gin.Context) {
	id := c.Param("id")
	h.reply(c, func(ctx context.Context, obs services.StreamObserver) (*services.Stream, error) {
		return h.coordinator.Regenerate(ctx, id, obs)
	})
}

// replyResponse is the settled result of a reply as returned to clients
type replyResponse struct {
	services.StreamResult
	Error        string                 `json:"error,omitempty"`
	Conversation *entities.Conversation `json:"conversation,omitempty"`
}

func (h *APIHandlers) settled(res services.StreamResult) replyResponse {
	out := replyResponse{StreamResult: res}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if conv, ok := h.session.Conversation(res.ConversationID); ok {
		out.Conversation = &conv
	}
	return out
}

// reply runs start in one of three delivery modes: ?stream=true answers
// with server-sent events, ?async=true returns 202 at once and the default
// waits for the settled result.
func (h *APIHandlers) reply(c *gin.Context, start starter) {
	switch {
	case httputil.ParseBoolParam(c, "stream", false):
		h.streamReply(c, start)
	case httputil.ParseBoolParam(c, "async", false):
		stream, err := start(c.Request.Context(), nil)
		if err != nil {
			h.respondError(c, err)
			return
		}
		httputil.AcceptedResponse(c, gin.H{
			"conversation_id": stream.ConversationID,
			"phase":           services.PhaseSending,
		})
	default:
		stream, err := start(c.Request.Context(), nil)
		if err != nil {
			h.respondError(c, err)
			return
		}
		select {
		case <-stream.Done():
			httputil.SuccessResponse(c, h.settled(stream.Wait()))
		case <-c.Request.Context().Done():
			// the reply keeps streaming into the session
			h.logger.Debug("Client left before reply settled", logutil.Fields{
				"conversation_id": stream.ConversationID,
			})
		}
	}
}

// streamReply relays stream events as server-sent events named after the
// phase. The last event is always a settled phase.
func (h *APIHandlers) streamReply(c *gin.Context, start starter) {
	events := make(chan services.StreamEvent, sseBuffer)
	observer := func(ev services.StreamEvent) {
		select {
		case events <- ev:
		default:
		}
	}

	stream, err := start(c.Request.Context(), observer)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-events:
			c.SSEvent(string(ev.Phase), ev)
			return !ev.Phase.IsTerminal()

		case <-stream.Done():
			for {
				select {
				case ev := <-events:
					c.SSEvent(string(ev.Phase), ev)
					if ev.Phase.IsTerminal() {
						return false
					}
				default:
					res := h.settled(stream.Wait())
					c.SSEvent(string(res.Phase), res)
					return false
				}
			}

		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Derived views

func (h *APIHandlers) summarize(c *gin.Context) {
	id := c.Param("id")

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationModel)
	defer cancel()

	summary, err := h.coordinator.Summarize(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	httputil.SuccessResponse(c, gin.H{
		"conversation_id": id,
		"summary":         summary,
	})
}

func (h *APIHandlers) exportConversation(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		httputil.BadRequestError(c, err)
		return
	}
	exporter, err := export.New(format, h.config.AssistantName)
	if err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	conv, ok := h.lookup(c)
	if !ok {
		return
	}

	data, err := exporter.Export(conv, h.session.Profile().Name)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(conv.Title, exporter)))
	c.Data(http.StatusOK, exporter.MimeType(), data)
}

func (h *APIHandlers) shareConversation(c *gin.Context) {
	conv, ok := h.lookup(c)
	if !ok {
		return
	}
	httputil.SuccessResponse(c, gin.H{
		"conversation_id": conv.ID,
		"title":           conv.Title,
		"text":            export.ShareText(conv, h.session.Profile().Name, h.config.AssistantName),
	})
}

func (h *APIHandlers) countTokens(c *gin.Context) {
	if h.tokenizer == nil {
		httputil.ServiceUnavailableError(c, errNoTokenizer)
		return
	}
	conv, ok := h.lookup(c)
	if !ok {
		return
	}

	persona := entities.PersonaFor(h.session.Preferences().GenZMode)
	transcript := export.Transcript(conv, h.session.Profile().Name, h.config.AssistantName)
	httputil.SuccessResponse(c, gin.H{
		"conversation_id": conv.ID,
		"messages":        conv.MessageCount(),
		"tokens":          h.tokenizer.CountConversationTokens(conv.Messages, persona.Content),
		"encoding":        h.tokenizer.EncodingName(),
		"transcript":      h.tokenizer.GetTokenDetails(transcript),
	})
}

// Profile and preferences

func (h *APIHandlers) getProfile(c *gin.Context) {
	httputil.SuccessResponse(c, h.session.Profile())
}

func (h *APIHandlers) updateProfile(c *gin.Context) {
	var req entities.UserProfile
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}
	httputil.SuccessResponse(c, h.session.UpdateProfile(c.Request.Context(), req))
}

func (h *APIHandlers) listAvatars(c *gin.Context) {
	httputil.SuccessResponse(c, entities.AvatarIDs())
}

func (h *APIHandlers) getPreferences(c *gin.Context) {
	httputil.SuccessResponse(c, h.session.Preferences())
}

func (h *APIHandlers) updatePreferences(c *gin.Context) {
	var req struct {
		GenZMode  *bool   `json:"genz_mode"`
		SortOrder *string `json:"sort_order"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequestError(c, err)
		return
	}

	var order entities.SortOrder
	if req.SortOrder != nil {
		parsed, ok := entities.ParseSortOrder(*req.SortOrder)
		if !ok {
			httputil.BadRequestError(c, errInvalidSort)
			return
		}
		order = parsed
	}

	ctx := c.Request.Context()
	if req.GenZMode != nil {
		h.session.SetGenZMode(ctx, *req.GenZMode)
	}
	if req.SortOrder != nil {
		h.session.SetSortOrder(ctx, order)
	}
	httputil.SuccessResponse(c, h.session.Preferences())
}

// System handlers for the dashboard

func (h *APIHandlers) getSystemHealth(c *gin.Context) {
	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationHealth)
	defer cancel()

	health := gin.H{
		"api":       "healthy",
		"storage":   "unknown",
		"messaging": "disabled",
		"model":     "unknown",
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp": time.Now(),
	}

	if err := h.storage.Ping(ctx); err != nil {
		health["storage"] = "error"
	} else {
		health["storage"] = "healthy"
	}

	if h.messaging != nil {
		if err := h.messaging.Ping(); err != nil {
			health["messaging"] = "error"
		} else {
			health["messaging"] = "healthy"
		}
	}

	if h.model != nil {
		if err := h.model.Ping(ctx); err != nil {
			health["model"] = "error"
		} else {
			health["model"] = "healthy"
		}
	}

	if health["storage"] == "error" {
		httputil.ErrorResponse(c, http.StatusServiceUnavailable, errStorageDown)
		return
	}
	httputil.SuccessResponse(c, health)
}

func (h *APIHandlers) getSystemMetrics(c *gin.Context) {
	h.metrics.SetConversationCount(len(h.session.Conversations()))

	ctx, cancel := httputil.WithOperationContext(c, httputil.OperationHealth)
	defer cancel()

	out := h.metrics.GetSystemMetrics(ctx)

	// ?recent=N&name=store_mutation&operation=create lists raw samples
	if limit := httputil.ParseIntParam(c, "recent", 0); limit > 0 {
		filter := make(map[string]string)
		for _, key := range []string{"name", "operation", "action", "outcome"} {
			if value := c.Query(key); value != "" {
				filter[key] = value
			}
		}
		out["recent"] = h.metrics.GetMetrics(ctx, filter, min(limit, maxRecentMetrics))
	}
	httputil.SuccessResponse(c, out)
}

// connectionReporter is implemented by messaging adapters that expose
// connection details
type connectionReporter interface {
	GetConnectionStatus() map[string]interface{}
}

func (h *APIHandlers) getSystemConnections(c *gin.Context) {
	out := gin.H{"timestamp": time.Now()}
	if h.wsHub != nil {
		out["websocket"] = h.wsHub.GetStats()
	}
	if reporter, ok := h.messaging.(connectionReporter); ok {
		out["messaging"] = reporter.GetConnectionStatus()
	}
	httputil.SuccessResponse(c, out)
}
