package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/username/chatbae/internal/domain/entities"
	"github.com/username/chatbae/internal/domain/metrics"
	"github.com/username/chatbae/internal/domain/ports"
	"github.com/username/chatbae/internal/domain/search"
	"github.com/username/chatbae/internal/domain/store"
	"github.com/username/chatbae/internal/pkg/logutil"
)

// ChatSession owns the conversation store and the user preferences. All
// mutations go through it: it applies the pure store operation, persists the
// affected keys and publishes an event describing the change.
type ChatSession struct {
	// writeMu orders mutations together with their persistence and events.
	// mu guards the fields below and is never held across I/O.
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   store.State
	profile entities.UserProfile
	prefs   entities.Preferences

	repo      *StateRepository
	messaging ports.MessagingPort
	ranker    *search.Ranker
	metrics   *metrics.Collector
	logger    *logutil.Logger

	now   func() time.Time
	newID func() string
}

// NewChatSession hydrates a session from the repository. messaging and
// collector may be nil.
func NewChatSession(ctx context.Context, repo *StateRepository, messaging ports.MessagingPort, ranker *search.Ranker, collector *metrics.Collector, logger *logutil.Logger) *ChatSession {
	if logger == nil {
		logger = logutil.NewDefaultLogger()
	}
	if ranker == nil {
		ranker = search.NewRanker(search.ModeTokens, search.DefaultMaxFuzzyDistance)
	}

	snap := repo.LoadSnapshot(ctx)
	state := store.Hydrate(snap.Conversations, snap.ActiveID)
	if snap.ActiveID != "" && state.ActiveID() != snap.ActiveID {
		logger.Warn("Corrected dangling active conversation", logutil.Fields{
			"stored_id": snap.ActiveID,
			"active_id": state.ActiveID(),
		})
	}

	cs := &ChatSession{
		state:     state,
		profile:   snap.Profile,
		prefs:     snap.Preferences,
		repo:      repo,
		messaging: messaging,
		ranker:    ranker,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
		newID:     entities.NewConversationID,
	}

	if collector != nil {
		collector.SetConversationCount(state.Len())
	}

	logger.Info("Chat session hydrated", logutil.Fields{
		"conversations": state.Len(),
		"active_id":     state.ActiveID(),
	})
	return cs
}

// mutation is a pure transition. changed=false means nothing happened and
// nothing is persisted or published.
type mutation func(s store.State) (next store.State, changed bool, err error)

// mutate applies fn, then persists and publishes. Readers see the new state
// as soon as fn returns; they do not wait for storage.
func (cs *ChatSession) mutate(ctx context.Context, op string, conversationID string, event ports.EventType, fn mutation) (store.State, bool, error) {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()

	cs.mu.Lock()
	prev := cs.state
	next, changed, err := fn(prev)
	if err != nil || !changed {
		cs.mu.Unlock()
		return prev, false, err
	}
	cs.state = next
	cs.mu.Unlock()

	cs.persist(ctx, op, conversationID, event, prev, next)
	return next, true, nil
}

// persist saves and publishes the difference between prev and next. The
// caller holds cs.writeMu.
func (cs *ChatSession) persist(ctx context.Context, op string, conversationID string, event ports.EventType, prev, next store.State) {
	// The change is already visible in memory; persistence must finish even
	// if the caller goes away.
	bg := context.WithoutCancel(ctx)
	if op != opSelect && op != opClearSelection {
		if err := cs.repo.SaveConversations(bg, next.Conversations()); err != nil {
			cs.logger.Error("Failed to persist conversations", logutil.Fields{"operation": op, "error": err.Error()})
		}
	}
	if prev.ActiveID() != next.ActiveID() {
		if err := cs.repo.SaveActiveID(bg, next.ActiveID()); err != nil {
			cs.logger.Error("Failed to persist active conversation", logutil.Fields{"operation": op, "error": err.Error()})
		}
		cs.publish(bg, ports.SubjectSessionUpdated, ports.Event{
			Type:     ports.EventSelectionChanged,
			ActiveID: next.ActiveID(),
		})
	}

	if cs.metrics != nil {
		cs.metrics.RecordMutation(op)
		cs.metrics.SetConversationCount(next.Len())
	}

	if event != "" && conversationID != "" {
		ev := ports.Event{Type: event, ConversationID: conversationID, ActiveID: next.ActiveID()}
		if c, ok := next.Conversation(conversationID); ok {
			ev.Conversation = &c
		}
		cs.publish(bg, fmt.Sprintf(ports.SubjectConversationUpdated, conversationID), ev)
	}
}

// publish sends an event if a messaging port is configured. Failures are
// logged and never surfaced.
func (cs *ChatSession) publish(ctx context.Context, subject string, ev ports.Event) {
	if cs.messaging == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = cs.now()
	}
	if err := cs.messaging.PublishJSON(ctx, subject, ev); err != nil {
		cs.logger.Warn("Failed to publish event", logutil.Fields{"subject": subject, "error": err.Error()})
	}
}

// Store operation names, used for metrics and logs
const (
	opCreate         = "create"
	opDelete         = "delete"
	opRename         = "rename"
	opTogglePin      = "toggle_pin"
	opSelect         = "select"
	opClearSelection = "clear_selection"
	opAppend         = "append"
	opReplace        = "replace_trailing"
	opTruncate       = "truncate_replace"
	opBeginExchange  = "begin_exchange"
)

func (cs *ChatSession) logUnknown(op, id string) {
	cs.logger.Warn("Ignoring operation on unknown conversation", logutil.Fields{
		"operation":       op,
		"conversation_id": id,
	})
}

// CreateConversation allocates a new empty conversation and makes it active
func (cs *ChatSession) CreateConversation(ctx context.Context) entities.Conversation {
	id := cs.newID()
	now := cs.now()
	next, _, _ := cs.mutate(ctx, opCreate, id, ports.EventConversationCreated, func(s store.State) (store.State, bool, error) {
		return s.CreateConversation(id, now), true, nil
	})
	c, _ := next.Conversation(id)
	return c
}

// ActiveOrCreate returns the active conversation, creating and selecting a new
// one when none is active. Concurrent callers with nothing active share one
// new conversation.
func (cs *ChatSession) ActiveOrCreate(ctx context.Context) (conv entities.Conversation, created bool) {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()

	cs.mu.Lock()
	prev := cs.state
	if c, ok := prev.Conversation(prev.ActiveID()); ok {
		cs.mu.Unlock()
		return c, false
	}
	id := cs.newID()
	next := prev.CreateConversation(id, cs.now())
	cs.state = next
	cs.mu.Unlock()

	cs.persist(ctx, opCreate, id, ports.EventConversationCreated, prev, next)

	c, _ := next.Conversation(id)
	return c, true
}

// DeleteConversation removes a conversation; unknown ids are a logged no-op
func (cs *ChatSession) DeleteConversation(ctx context.Context, id string) bool {
	_, ok, _ := cs.mutate(ctx, opDelete, id, ports.EventConversationDeleted, func(s store.State) (store.State, bool, error) {
		next, ok := s.DeleteConversation(id)
		return next, ok, nil
	})
	if !ok {
		cs.logUnknown(opDelete, id)
	}
	return ok
}

// RenameConversation replaces the title with its trimmed value. Blank titles
// and unknown ids are rejected.
func (cs *ChatSession) RenameConversation(ctx context.Context, id, title string) bool {
	_, ok, _ := cs.mutate(ctx, opRename, id, ports.EventConversationUpdated, func(s store.State) (store.State, bool, error) {
		next, ok := s.RenameConversation(id, title)
		return next, ok, nil
	})
	if !ok && cs.Contains(id) {
		cs.logger.Debug("Rejected blank title", logutil.Fields{"conversation_id": id})
	} else if !ok {
		cs.logUnknown(opRename, id)
	}
	return ok
}

// TogglePin flips the pinned flag
func (cs *ChatSession) TogglePin(ctx context.Context, id string) bool {
	_, ok, _ := cs.mutate(ctx, opTogglePin, id, ports.EventConversationUpdated, func(s store.State) (store.State, bool, error) {
		next, ok := s.TogglePin(id)
		return next, ok, nil
	})
	if !ok {
		cs.logUnknown(opTogglePin, id)
	}
	return ok
}

// SelectConversation makes id the active conversation
func (cs *ChatSession) SelectConversation(ctx context.Context, id string) bool {
	var known bool
	_, _, _ = cs.mutate(ctx, opSelect, "", "", func(s store.State) (store.State, bool, error) {
		next, ok := s.SelectConversation(id)
		known = ok
		return next, ok && s.ActiveID() != id, nil
	})
	if !known {
		cs.logUnknown(opSelect, id)
	}
	return known
}

// ClearSelection leaves no conversation active
func (cs *ChatSession) ClearSelection(ctx context.Context) {
	_, _, _ = cs.mutate(ctx, opClearSelection, "", "", func(s store.State) (store.State, bool, error) {
		return s.ClearSelection(), s.ActiveID() != "", nil
	})
}

// AppendMessage appends a message. An unknown id is an invariant violation:
// it is logged at error level and reported, and no other conversation is
// touched.
func (cs *ChatSession) AppendMessage(ctx context.Context, id string, msg entities.Message) error {
	_, _, err := cs.mutate(ctx, opAppend, id, ports.EventConversationUpdated, func(s store.State) (store.State, bool, error) {
		next, err := s.AppendMessage(id, msg)
		return next, err == nil, err
	})
	if err != nil {
		cs.logger.Error("Append to unknown conversation", logutil.Fields{"conversation_id": id, "error": err.Error()})
	}
	return err
}

// ReplaceTrailingMessage sets the full content of the last message. Stream
// consumers publish their own progress, so no conversation event is sent.
func (cs *ChatSession) ReplaceTrailingMessage(ctx context.Context, id, content string) bool {
	_, ok, _ := cs.mutate(ctx, opReplace, id, "", func(s store.State) (store.State, bool, error) {
		next, ok := s.ReplaceTrailingMessage(id, content)
		return next, ok, nil
	})
	if !ok {
		cs.logUnknown(opReplace, id)
	}
	return ok
}

// TruncateAndReplace keeps the first keep messages and appends msgs
func (cs *ChatSession) TruncateAndReplace(ctx context.Context, id string, keep int, msgs []entities.Message) error {
	_, _, err := cs.mutate(ctx, opTruncate, id, ports.EventConversationUpdated, func(s store.State) (store.State, bool, error) {
		next, err := s.TruncateAndReplace(id, keep, msgs)
		return next, err == nil, err
	})
	if err != nil {
		cs.logger.Warn("Truncate rejected", logutil.Fields{"conversation_id": id, "keep": keep, "error": err.Error()})
	}
	return err
}

// beginExchange atomically truncates the conversation to keep messages
// (keep < 0 keeps everything), appends the user message and an empty model
// placeholder, and returns the history that preceded the user message.
func (cs *ChatSession) beginExchange(ctx context.Context, id string, keep int, user entities.Message) ([]entities.Message, error) {
	var history []entities.Message
	placeholder := entities.NewModelMessage("", cs.now())

	_, _, err := cs.mutate(ctx, opBeginExchange, id, ports.EventConversationUpdated, func(s store.State) (store.State, bool, error) {
		c, ok := s.Conversation(id)
		if !ok {
			return s, false, fmt.Errorf("begin exchange on %q: %w", id, store.ErrConversationNotFound)
		}
		if keep < 0 {
			keep = len(c.Messages)
		}
		next, err := s.TruncateAndReplace(id, keep, []entities.Message{user, placeholder})
		if err != nil {
			return s, false, err
		}
		history = c.Messages[:keep]
		return next, true, nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// UpdateProfile normalizes and stores the profile
func (cs *ChatSession) UpdateProfile(ctx context.Context, p entities.UserProfile) entities.UserProfile {
	p = p.Normalize()

	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()

	cs.mu.Lock()
	cs.profile = p
	cs.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	if err := cs.repo.SaveProfile(bg, p); err != nil {
		cs.logger.Error("Failed to persist profile", logutil.Fields{"error": err.Error()})
	}
	cs.publish(bg, ports.SubjectSessionUpdated, ports.Event{Type: ports.EventProfileUpdated})
	return p
}

// SetGenZMode toggles the informal persona
func (cs *ChatSession) SetGenZMode(ctx context.Context, on bool) {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()

	cs.mu.Lock()
	cs.prefs.GenZMode = on
	cs.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	if err := cs.repo.SaveGenZMode(bg, on); err != nil {
		cs.logger.Error("Failed to persist genz mode", logutil.Fields{"error": err.Error()})
	}
	cs.publish(bg, ports.SubjectSessionUpdated, ports.Event{Type: ports.EventPreferencesUpdated})
}

// SetSortOrder changes how the list is ordered when not searching
func (cs *ChatSession) SetSortOrder(ctx context.Context, order entities.SortOrder) {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()

	cs.mu.Lock()
	cs.prefs.SortOrder = order
	cs.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	if err := cs.repo.SaveSortOrder(bg, order); err != nil {
		cs.logger.Error("Failed to persist sort order", logutil.Fields{"error": err.Error()})
	}
	cs.publish(bg, ports.SubjectSessionUpdated, ports.Event{Type: ports.EventPreferencesUpdated})
}

// Conversation returns a copy of one conversation
func (cs *ChatSession) Conversation(id string) (entities.Conversation, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.state.Conversation(id)
}

// Contains reports whether id is a live conversation
func (cs *ChatSession) Contains(id string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.state.Contains(id)
}

// Conversations returns copies of all conversations in display order
func (cs *ChatSession) Conversations() []entities.Conversation {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.state.Conversations()
}

// ActiveID returns the active conversation id, empty when none
func (cs *ChatSession) ActiveID() string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.state.ActiveID()
}

// Profile returns the current user profile
func (cs *ChatSession) Profile() entities.UserProfile {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.profile
}

// Preferences returns the current preferences
func (cs *ChatSession) Preferences() entities.Preferences {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.prefs
}

// Search returns the conversations to display for term, pinned first
func (cs *ChatSession) Search(term string) []entities.Conversation {
	cs.mu.RLock()
	convs := cs.state.Conversations()
	order := cs.prefs.SortOrder
	cs.mu.RUnlock()

	return cs.ranker.View(term, convs, search.ViewOptions{
		SortOrder:   order,
		GroupPinned: true,
	})
}

// Snapshot returns the whole session state
func (cs *ChatSession) Snapshot() Snapshot {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return Snapshot{
		Conversations: cs.state.Conversations(),
		ActiveID:      cs.state.ActiveID(),
		Profile:       cs.profile,
		Preferences:   cs.prefs,
	}
}
