package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/username/chatbae/internal/domain/entities"
	"github.com/username/chatbae/internal/domain/metrics"
	"github.com/username/chatbae/internal/domain/ports"
	"github.com/username/chatbae/internal/domain/store"
	"github.com/username/chatbae/internal/pkg/logutil"
)

var (
	// ErrEmptyMessage is returned when the content to send is blank
	ErrEmptyMessage = errors.New("message is empty")
	// ErrStreamInProgress is returned when the conversation already has a reply in flight
	ErrStreamInProgress = errors.New("a reply is already streaming for this conversation")
	// ErrNotUserMessage is returned when an edit targets a model message
	ErrNotUserMessage = errors.New("only user messages can be edited")
	// ErrNothingToRegenerate is returned when the conversation has no user message
	ErrNothingToRegenerate = errors.New("no user message to regenerate from")
)

// Fixed user-visible texts
const (
	DefaultApologyMessage     = "Sorry, I encountered an error. Please try again."
	DefaultEditApologyMessage = "Sorry, I encountered an error processing your edit. Please try again."
	NotEnoughMessagesNotice   = "Not enough messages to generate a summary."
	SummaryErrorNotice        = "Error generating summary."
)

// Phase is a state of the reply state machine
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSending   Phase = "sending"
	PhaseStreaming Phase = "streaming"
	PhaseSucceeded Phase = "settled_success"
	PhaseFailed    Phase = "settled_error"
	// PhaseDiscarded ends a stream whose conversation was deleted mid-flight
	PhaseDiscarded Phase = "discarded"
)

// IsTerminal reports whether no further events follow this phase
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseDiscarded
}

// Stream actions
const (
	ActionSend       = "send"
	ActionEdit       = "edit"
	ActionRegenerate = "regenerate"
)

// StreamEvent reports progress of a reply. Content is the accumulated reply
// so far, never a delta.
type StreamEvent struct {
	Phase          Phase  `json:"phase"`
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content,omitempty"`
	Title          string `json:"title,omitempty"`
	Error          string `json:"error,omitempty"`
}

// StreamObserver receives events on the stream goroutine, in order
type StreamObserver func(StreamEvent)

// StreamResult is the settled outcome of a reply
type StreamResult struct {
	ConversationID string        `json:"conversation_id"`
	Phase          Phase         `json:"phase"`
	Content        string        `json:"content"`
	Title          string        `json:"title,omitempty"`
	Err            error         `json:"-"`
	Duration       time.Duration `json:"duration"`
}

// Stream is a reply in flight
type Stream struct {
	ConversationID string
	done           chan struct{}
	result         StreamResult
}

// Done is closed once the stream has settled
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the stream settles and returns its result
func (s *Stream) Wait() StreamResult {
	<-s.done
	return s.result
}

// SendRequest is a new user message
type SendRequest struct {
	// ConversationID targets a conversation. Empty means the active one,
	// created on the fly when nothing is active.
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// EditRequest replaces a user message and everything after it
type EditRequest struct {
	ConversationID string `json:"conversation_id"`
	Index          int    `json:"index"`
	Content        string `json:"content"`
}

// CoordinatorConfig holds configuration for the stream coordinator
type CoordinatorConfig struct {
	ApologyMessage        string
	EditApologyMessage    string
	TitleMessageThreshold int
	MaxHistoryTokens      int // 0 disables trimming
	ModelTimeout          time.Duration
	TitleTimeout          time.Duration
}

// DefaultCoordinatorConfig returns the stock texts and limits
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		ApologyMessage:        DefaultApologyMessage,
		EditApologyMessage:    DefaultEditApologyMessage,
		TitleMessageThreshold: 2,
		MaxHistoryTokens:      0,
		ModelTimeout:          2 * time.Minute,
		TitleTimeout:          30 * time.Second,
	}
}

// StreamCoordinator drives replies from the model into the session. At most
// one reply is in flight per conversation; replies on different
// conversations run concurrently.
type StreamCoordinator struct {
	session   *ChatSession
	model     ports.ChatModelPort
	titles    ports.TitleGeneratorPort
	tokens    ports.TokenCounter
	messaging ports.MessagingPort
	metrics   *metrics.Collector
	logger    *logutil.Logger
	config    *CoordinatorConfig

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewStreamCoordinator creates a coordinator. titles, tokens, messaging and
// collector may be nil.
func NewStreamCoordinator(
	session *ChatSession,
	model ports.ChatModelPort,
	titles ports.TitleGeneratorPort,
	tokens ports.TokenCounter,
	messaging ports.MessagingPort,
	collector *metrics.Collector,
	logger *logutil.Logger,
	config *CoordinatorConfig,
) *StreamCoordinator {
	if config == nil {
		config = DefaultCoordinatorConfig()
	}
	if logger == nil {
		logger = logutil.NewDefaultLogger()
	}
	return &StreamCoordinator{
		session:   session,
		model:     model,
		titles:    titles,
		tokens:    tokens,
		messaging: messaging,
		metrics:   collector,
		logger:    logger,
		config:    config,
		inFlight:  make(map[string]struct{}),
	}
}

// IsStreaming reports whether a reply is in flight for the conversation
func (sc *StreamCoordinator) IsStreaming(conversationID string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, busy := sc.inFlight[conversationID]
	return busy
}

func (sc *StreamCoordinator) acquire(conversationID string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, busy := sc.inFlight[conversationID]; busy {
		return false
	}
	sc.inFlight[conversationID] = struct{}{}
	return true
}

func (sc *StreamCoordinator) release(conversationID string) {
	sc.mu.Lock()
	delete(sc.inFlight, conversationID)
	sc.mu.Unlock()
}

// Wait blocks until every stream started so far has settled
func (sc *StreamCoordinator) Wait() {
	sc.wg.Wait()
}

// exchange is everything a stream needs once the sending phase is entered
type exchange struct {
	action         string
	conversationID string
	history        []entities.Message
	content        string
	informal       bool
	apology        string
	started        time.Time
}

// Send appends a user message and starts streaming the reply. Validation
// and the sending transition happen before Send returns; the reply itself
// streams in the background and keeps going if ctx is cancelled.
func (sc *StreamCoordinator) Send(ctx context.Context, req SendRequest, observer StreamObserver) (*Stream, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	id := req.ConversationID
	if id == "" {
		conv, _ := sc.session.ActiveOrCreate(ctx)
		id = conv.ID
	}
	if !sc.session.Contains(id) {
		return nil, fmt.Errorf("send to %q: %w", id, store.ErrConversationNotFound)
	}

	return sc.begin(ctx, ActionSend, id, -1, content, sc.config.ApologyMessage, observer)
}

// Edit replaces the user message at index, drops everything after it and
// streams a new reply from the truncated history.
func (sc *StreamCoordinator) Edit(ctx context.Context, req EditRequest, observer StreamObserver) (*Stream, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	conv, ok := sc.session.Conversation(req.ConversationID)
	if !ok {
		return nil, fmt.Errorf("edit %q: %w", req.ConversationID, store.ErrConversationNotFound)
	}
	if req.Index < 0 || req.Index >= len(conv.Messages) {
		return nil, fmt.Errorf("edit %q at %d: %w", req.ConversationID, req.Index, store.ErrInvalidIndex)
	}
	if !conv.Messages[req.Index].IsFromUser() {
		return nil, fmt.Errorf("edit %q at %d: %w", req.ConversationID, req.Index, ErrNotUserMessage)
	}

	return sc.begin(ctx, ActionEdit, req.ConversationID, req.Index, content, sc.config.EditApologyMessage, observer)
}

// Regenerate re-asks the model for a reply to the last user message
func (sc *StreamCoordinator) Regenerate(ctx context.Context, conversationID string, observer StreamObserver) (*Stream, error) {
	conv, ok := sc.session.Conversation(conversationID)
	if !ok {
		return nil, fmt.Errorf("regenerate %q: %w", conversationID, store.ErrConversationNotFound)
	}
	idx := conv.LastUserMessageIndex()
	if idx < 0 {
		return nil, ErrNothingToRegenerate
	}

	return sc.begin(ctx, ActionRegenerate, conversationID, idx, conv.Messages[idx].Content, sc.config.EditApologyMessage, observer)
}

// begin takes the per-conversation guard, performs the sending transition and
// launches the stream goroutine.
func (sc *StreamCoordinator) begin(ctx context.Context, action, id string, keep int, content, apology string, observer StreamObserver) (*Stream, error) {
	if !sc.acquire(id) {
		return nil, ErrStreamInProgress
	}

	started := time.Now()
	history, err := sc.session.beginExchange(ctx, id, keep, entities.NewUserMessage(content, sc.session.now()))
	if err != nil {
		sc.release(id)
		return nil, err
	}

	ex := exchange{
		action:         action,
		conversationID: id,
		history:        sc.trimHistory(history, content),
		content:        content,
		informal:       sc.session.Preferences().GenZMode,
		apology:        apology,
		started:        started,
	}

	if sc.metrics != nil {
		sc.metrics.RecordStreamStarted(action)
	}

	s := &Stream{ConversationID: id, done: make(chan struct{})}
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		defer close(s.done)
		defer sc.release(id)
		s.result = sc.run(context.WithoutCancel(ctx), ex, observer)
	}()
	return s, nil
}

// trimHistory drops the oldest messages until the request fits the token
// budget. The new content always goes out.
func (sc *StreamCoordinator) trimHistory(history []entities.Message, content string) []entities.Message {
	if sc.tokens == nil || sc.config.MaxHistoryTokens <= 0 {
		return history
	}

	total := sc.tokens.CountTokens(content)
	for _, m := range history {
		total += sc.tokens.CountMessageTokens(m)
	}

	start := 0
	for start < len(history) && total > sc.config.MaxHistoryTokens {
		total -= sc.tokens.CountMessageTokens(history[start])
		start++
	}
	if start > 0 {
		sc.logger.Debug("Trimmed history to token budget", logutil.Fields{
			"dropped": start,
			"budget":  sc.config.MaxHistoryTokens,
		})
	}
	return history[start:]
}

// run is the stream goroutine: sending, streaming, then settled
func (sc *StreamCoordinator) run(ctx context.Context, ex exchange, observer StreamObserver) StreamResult {
	log := sc.logger.WithFields(logutil.Fields{
		"conversation_id": ex.conversationID,
		"action":          ex.action,
	})

	emit := func(ev StreamEvent) {
		ev.Action = ex.action
		ev.ConversationID = ex.conversationID
		if observer != nil {
			observer(ev)
		}
		sc.publish(ctx, ev)
	}

	settle := func(result StreamResult) StreamResult {
		result.ConversationID = ex.conversationID
		result.Duration = time.Since(ex.started)
		if sc.metrics != nil {
			outcome := metrics.OutcomeSuccess
			if result.Phase != PhaseSucceeded {
				outcome = string(result.Phase)
			}
			sc.metrics.RecordStreamSettled(ex.action, outcome, result.Duration)
		}
		ev := StreamEvent{Phase: result.Phase, Content: result.Content, Title: result.Title}
		if result.Err != nil {
			ev.Error = result.Err.Error()
		}
		emit(ev)
		return result
	}

	emit(StreamEvent{Phase: PhaseSending})

	modelCtx, cancel := context.WithTimeout(ctx, sc.config.ModelTimeout)
	defer cancel()

	chunks, err := sc.model.StreamReply(modelCtx, ports.ReplyRequest{
		History:  ex.history,
		Content:  ex.content,
		Informal: ex.informal,
	})
	if err != nil {
		log.Error("Model request failed", logutil.Fields{"error": err.Error()})
		return settle(sc.fail(ctx, ex, err))
	}

	var reply strings.Builder
	streaming := false
	for chunk := range chunks {
		if chunk.Err != nil {
			log.Error("Model stream failed", logutil.Fields{"error": chunk.Err.Error(), "received": reply.Len()})
			return settle(sc.fail(ctx, ex, chunk.Err))
		}
		if chunk.Text == "" {
			continue
		}
		reply.WriteString(chunk.Text)

		if !sc.session.ReplaceTrailingMessage(ctx, ex.conversationID, reply.String()) {
			// Conversation deleted mid-stream. Stop the upstream and drop
			// whatever else arrives.
			cancel()
			log.Info("Discarding reply for deleted conversation")
			return settle(StreamResult{Phase: PhaseDiscarded, Content: reply.String()})
		}
		if sc.metrics != nil {
			sc.metrics.RecordFragment()
		}
		streaming = true
		emit(StreamEvent{Phase: PhaseStreaming, Content: reply.String()})
	}

	if err := modelCtx.Err(); err != nil && errors.Is(err, context.DeadlineExceeded) {
		log.Error("Model stream timed out", logutil.Fields{"received": reply.Len()})
		return settle(sc.fail(ctx, ex, err))
	}

	if !sc.session.Contains(ex.conversationID) {
		return settle(StreamResult{Phase: PhaseDiscarded, Content: reply.String()})
	}

	result := StreamResult{Phase: PhaseSucceeded, Content: reply.String()}
	result.Title = sc.maybeGenerateTitle(ctx, ex.conversationID)

	log.Debug("Reply settled", logutil.Fields{"length": reply.Len(), "streamed": streaming})
	return settle(result)
}

// fail replaces the trailing placeholder with the apology
func (sc *StreamCoordinator) fail(ctx context.Context, ex exchange, cause error) StreamResult {
	if !sc.session.ReplaceTrailingMessage(ctx, ex.conversationID, ex.apology) {
		return StreamResult{Phase: PhaseDiscarded, Err: cause}
	}
	if sc.messaging != nil {
		if err := sc.messaging.PublishJSON(ctx, ports.SubjectSystemError, ports.Event{
			Type:           ports.EventError,
			ConversationID: ex.conversationID,
			Error:          cause.Error(),
			Timestamp:      time.Now(),
		}); err != nil {
			sc.logger.Warn("Failed to publish error event", logutil.Fields{"error": err.Error()})
		}
	}
	return StreamResult{Phase: PhaseFailed, Content: ex.apology, Err: cause}
}

// maybeGenerateTitle names the conversation after its first exchange or while
// it still carries the placeholder title. Returns the applied title, if any.
func (sc *StreamCoordinator) maybeGenerateTitle(ctx context.Context, id string) string {
	if sc.titles == nil {
		return ""
	}

	conv, ok := sc.session.Conversation(id)
	if !ok {
		return ""
	}
	if conv.MessageCount() > sc.config.TitleMessageThreshold && !conv.HasDefaultTitle() {
		return ""
	}

	titleCtx, cancel := context.WithTimeout(ctx, sc.config.TitleTimeout)
	defer cancel()

	raw, err := sc.titles.GenerateTitle(titleCtx, conv.Messages)
	if err != nil {
		sc.logger.Warn("Title generation failed, keeping current title", logutil.Fields{
			"conversation_id": id,
			"error":           err.Error(),
		})
		sc.recordTitle(metrics.OutcomeError)
		return ""
	}

	title := CleanTitle(raw)
	if title == "" || title == conv.Title {
		sc.recordTitle(metrics.OutcomeSkipped)
		return ""
	}
	if !sc.session.RenameConversation(ctx, id, title) {
		sc.recordTitle(metrics.OutcomeSkipped)
		return ""
	}
	sc.recordTitle(metrics.OutcomeSuccess)
	return title
}

func (sc *StreamCoordinator) recordTitle(outcome string) {
	if sc.metrics != nil {
		sc.metrics.RecordTitle(outcome)
	}
}

// Summarize returns a one-sentence synopsis. Fewer than two messages yields a
// fixed notice, and a failed generation yields a fixed error text.
func (sc *StreamCoordinator) Summarize(ctx context.Context, conversationID string) (string, error) {
	conv, ok := sc.session.Conversation(conversationID)
	if !ok {
		return "", fmt.Errorf("summarize %q: %w", conversationID, store.ErrConversationNotFound)
	}
	if conv.MessageCount() < 2 {
		sc.recordSummary(metrics.OutcomeSkipped)
		return NotEnoughMessagesNotice, nil
	}
	if sc.titles == nil {
		sc.recordSummary(metrics.OutcomeError)
		return SummaryErrorNotice, nil
	}

	summaryCtx, cancel := context.WithTimeout(ctx, sc.config.TitleTimeout)
	defer cancel()

	summary, err := sc.titles.GenerateSummary(summaryCtx, conv.Messages)
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		fields := logutil.Fields{"conversation_id": conversationID}
		if err != nil {
			fields["error"] = err.Error()
		}
		sc.logger.Warn("Summary generation failed", fields)
		sc.recordSummary(metrics.OutcomeError)
		return SummaryErrorNotice, nil
	}

	sc.recordSummary(metrics.OutcomeSuccess)
	return summary, nil
}

func (sc *StreamCoordinator) recordSummary(outcome string) {
	if sc.metrics != nil {
		sc.metrics.RecordSummary(outcome)
	}
}

func (sc *StreamCoordinator) publish(ctx context.Context, ev StreamEvent) {
	if sc.messaging == nil {
		return
	}
	subject := fmt.Sprintf(ports.SubjectConversationStream, ev.ConversationID)
	err := sc.messaging.PublishJSON(ctx, subject, ports.Event{
		Type:           ports.EventStreamPhase,
		ConversationID: ev.ConversationID,
		Phase:          string(ev.Phase),
		Content:        ev.Content,
		Title:          ev.Title,
		Error:          ev.Error,
		Timestamp:      time.Now(),
	})
	if err != nil {
		sc.logger.Warn("Failed to publish stream event", logutil.Fields{"subject": subject, "error": err.Error()})
	}
}
