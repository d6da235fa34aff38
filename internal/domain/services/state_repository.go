package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/username/chatbae/internal/domain/entities"
	"github.com/username/chatbae/internal/domain/ports"
	"github.com/username/chatbae/internal/pkg/logutil"
)

// Keys under which session state is persisted. Each is loaded and saved on
// its own so a corrupt value never invalidates the others.
const (
	KeyConversations        = "conversations"
	KeyActiveConversationID = "active-conversation-id"
	KeyUserProfile          = "user-profile"
	KeyGenZMode             = "genz-mode"
	KeySortOrder            = "sort-order"
)

// PersistedKeys lists every key the repository owns
var PersistedKeys = []string{
	KeyConversations,
	KeyActiveConversationID,
	KeyUserProfile,
	KeyGenZMode,
	KeySortOrder,
}

// Snapshot is the complete persisted session state
type Snapshot struct {
	Conversations []entities.Conversation `json:"conversations"`
	ActiveID      string                  `json:"active_conversation_id"`
	Profile       entities.UserProfile    `json:"user_profile"`
	Preferences   entities.Preferences    `json:"preferences"`
}

// StateRepository encodes session state to the key/value store as JSON.
// Loads never fail: absent, unreadable or malformed values fall back to
// their defaults and the problem is logged.
type StateRepository struct {
	kv     ports.KeyValuePort
	logger *logutil.Logger
}

// NewStateRepository creates a repository over a key/value store
func NewStateRepository(kv ports.KeyValuePort, logger *logutil.Logger) *StateRepository {
	if logger == nil {
		logger = logutil.NewDefaultLogger()
	}
	return &StateRepository{
		kv:     kv,
		logger: logger,
	}
}

// errAbsent marks a key that has never been saved
var errAbsent = errors.New("absent")

// loadJSON decodes the value stored under key into dst
func (r *StateRepository) loadJSON(ctx context.Context, key string, dst interface{}) error {
	raw, found, err := r.kv.Load(ctx, key)
	if err != nil {
		r.logger.Error("Failed to read persisted state", logutil.Fields{"key": key, "error": err.Error()})
		return err
	}
	if !found {
		return errAbsent
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		r.logger.Warn("Discarding malformed persisted value", logutil.Fields{"key": key, "error": err.Error()})
		return err
	}
	return nil
}

func (r *StateRepository) saveJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := r.kv.Save(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// LoadConversations returns the persisted conversations in display order
func (r *StateRepository) LoadConversations(ctx context.Context) []entities.Conversation {
	var convs []entities.Conversation
	if err := r.loadJSON(ctx, KeyConversations, &convs); err != nil {
		return []entities.Conversation{}
	}
	for i := range convs {
		if convs[i].Messages == nil {
			convs[i].Messages = []entities.Message{}
		}
	}
	return convs
}

// SaveConversations persists the conversations in display order
func (r *StateRepository) SaveConversations(ctx context.Context, convs []entities.Conversation) error {
	if convs == nil {
		convs = []entities.Conversation{}
	}
	return r.saveJSON(ctx, KeyConversations, convs)
}

// LoadActiveID returns the persisted active conversation id, empty if none
func (r *StateRepository) LoadActiveID(ctx context.Context) string {
	var id string
	if err := r.loadJSON(ctx, KeyActiveConversationID, &id); err != nil {
		return ""
	}
	return id
}

// SaveActiveID persists the active id. An empty id removes the key.
func (r *StateRepository) SaveActiveID(ctx context.Context, id string) error {
	if id == "" {
		if err := r.kv.Remove(ctx, KeyActiveConversationID); err != nil {
			return fmt.Errorf("failed to remove %s: %w", KeyActiveConversationID, err)
		}
		return nil
	}
	return r.saveJSON(ctx, KeyActiveConversationID, id)
}

// LoadProfile returns the normalized persisted profile or the default one
func (r *StateRepository) LoadProfile(ctx context.Context) entities.UserProfile {
	var p entities.UserProfile
	if err := r.loadJSON(ctx, KeyUserProfile, &p); err != nil {
		return entities.DefaultUserProfile()
	}
	return p.Normalize()
}

// SaveProfile persists the normalized profile
func (r *StateRepository) SaveProfile(ctx context.Context, p entities.UserProfile) error {
	return r.saveJSON(ctx, KeyUserProfile, p.Normalize())
}

// LoadGenZMode returns the persisted style flag, false if unset
func (r *StateRepository) LoadGenZMode(ctx context.Context) bool {
	var on bool
	if err := r.loadJSON(ctx, KeyGenZMode, &on); err != nil {
		return false
	}
	return on
}

// SaveGenZMode persists the style flag
func (r *StateRepository) SaveGenZMode(ctx context.Context, on bool) error {
	return r.saveJSON(ctx, KeyGenZMode, on)
}

// LoadSortOrder returns the persisted sort preference or the default
func (r *StateRepository) LoadSortOrder(ctx context.Context) entities.SortOrder {
	var raw string
	if err := r.loadJSON(ctx, KeySortOrder, &raw); err != nil {
		return entities.DefaultSortOrder
	}
	order, ok := entities.ParseSortOrder(raw)
	if !ok {
		r.logger.Warn("Discarding unknown sort order", logutil.Fields{"key": KeySortOrder, "value": raw})
		return entities.DefaultSortOrder
	}
	return order
}

// SaveSortOrder persists the sort preference
func (r *StateRepository) SaveSortOrder(ctx context.Context, order entities.SortOrder) error {
	return r.saveJSON(ctx, KeySortOrder, string(order))
}

// LoadSnapshot loads every key independently
func (r *StateRepository) LoadSnapshot(ctx context.Context) Snapshot {
	return Snapshot{
		Conversations: r.LoadConversations(ctx),
		ActiveID:      r.LoadActiveID(ctx),
		Profile:       r.LoadProfile(ctx),
		Preferences: entities.Preferences{
			GenZMode:  r.LoadGenZMode(ctx),
			SortOrder: r.LoadSortOrder(ctx),
		},
	}
}

// SaveSnapshot persists every key, returning all failures joined
func (r *StateRepository) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	return errors.Join(
		r.SaveConversations(ctx, snap.Conversations),
		r.SaveActiveID(ctx, snap.ActiveID),
		r.SaveProfile(ctx, snap.Profile),
		r.SaveGenZMode(ctx, snap.Preferences.GenZMode),
		r.SaveSortOrder(ctx, snap.Preferences.SortOrder),
	)
}
