// Package store holds the conversation collection as an immutable value.
// Every operation returns a new State and leaves the receiver untouched, so
// asynchronous completions that race with user actions compose safely.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/username/chatbae/internal/domain/entities"
)

var (
	// ErrConversationNotFound is returned when an operation references an id
	// that is not in the store.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrInvalidIndex is returned when a message index is out of range.
	ErrInvalidIndex = errors.New("message index out of range")
)

// State is the set of conversations in display order plus the active id.
// The zero value is an empty store.
type State struct {
	order         []string
	conversations map[string]entities.Conversation
	activeID      string
}

// New returns an empty state
func New() State {
	return State{conversations: make(map[string]entities.Conversation)}
}

// Hydrate builds a state from persisted conversations. Duplicate ids keep the
// first occurrence. A missing or dangling active id is replaced by the most
// recently active conversation, or left empty when there is none.
func Hydrate(conversations []entities.Conversation, activeID string) State {
	s := New()
	s.order = make([]string, 0, len(conversations))

	for _, c := range conversations {
		if c.ID == "" {
			continue
		}
		if _, dup := s.conversations[c.ID]; dup {
			continue
		}
		c = c.Clone()
		if strings.TrimSpace(c.Title) == "" {
			c.Title = entities.DefaultTitle
		}
		s.order = append(s.order, c.ID)
		s.conversations[c.ID] = c
	}

	s.activeID = activeID
	if _, ok := s.conversations[activeID]; !ok {
		s.activeID = s.mostRecentlyActive()
	}
	return s
}

func (s State) mostRecentlyActive() string {
	best := ""
	var bestAt int64
	for _, id := range s.order {
		at := s.conversations[id].LastActivity()
		if best == "" || at > bestAt {
			best, bestAt = id, at
		}
	}
	return best
}

// clone copies the order slice and the map header. Conversation values are
// copied on write by the individual operations.
func (s State) clone() State {
	out := State{
		order:         make([]string, len(s.order)),
		conversations: make(map[string]entities.Conversation, len(s.conversations)),
		activeID:      s.activeID,
	}
	copy(out.order, s.order)
	for id, c := range s.conversations {
		out.conversations[id] = c
	}
	return out
}

// update applies fn to a private copy of conversation id
func (s State) update(id string, fn func(c *entities.Conversation)) (State, bool) {
	c, ok := s.conversations[id]
	if !ok {
		return s, false
	}
	next := s.clone()
	c = c.Clone()
	fn(&c)
	next.conversations[id] = c
	return next, true
}

// CreateConversation prepends a new empty conversation and makes it active
func (s State) CreateConversation(id string, now time.Time) State {
	next := s.clone()
	next.conversations[id] = entities.NewConversation(id, now)
	next.order = append([]string{id}, next.order...)
	next.activeID = id
	return next
}

// DeleteConversation removes a conversation. When the active conversation is
// removed the first pinned conversation in display order becomes active,
// otherwise the first remaining one, otherwise none.
func (s State) DeleteConversation(id string) (State, bool) {
	if _, ok := s.conversations[id]; !ok {
		return s, false
	}

	next := s.clone()
	delete(next.conversations, id)
	order := next.order[:0]
	for _, existing := range next.order {
		if existing != id {
			order = append(order, existing)
		}
	}
	next.order = order

	if next.activeID == id {
		next.activeID = next.fallbackActive()
	}
	return next, true
}

func (s State) fallbackActive() string {
	for _, id := range s.order {
		if s.conversations[id].IsPinned {
			return id
		}
	}
	if len(s.order) > 0 {
		return s.order[0]
	}
	return ""
}

// RenameConversation sets the trimmed title. Blank titles are rejected.
func (s State) RenameConversation(id, title string) (State, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return s, false
	}
	return s.update(id, func(c *entities.Conversation) {
		c.Title = title
	})
}

// TogglePin flips the pinned flag
func (s State) TogglePin(id string) (State, bool) {
	return s.update(id, func(c *entities.Conversation) {
		c.IsPinned = !c.IsPinned
	})
}

// AppendMessage adds a message to the end of a conversation. A timestamp
// older than the trailing message is raised to keep timestamps ordered.
func (s State) AppendMessage(id string, msg entities.Message) (State, error) {
	next, ok := s.update(id, func(c *entities.Conversation) {
		if last, ok := c.LastMessage(); ok && msg.Timestamp < last.Timestamp {
			msg.Timestamp = last.Timestamp
		}
		c.Messages = append(c.Messages, msg)
	})
	if !ok {
		return s, fmt.Errorf("append to %q: %w", id, ErrConversationNotFound)
	}
	return next, nil
}

// ReplaceTrailingMessage sets the full content of the last message, keeping
// its role and timestamp. Each call carries the complete content, not a delta.
func (s State) ReplaceTrailingMessage(id, content string) (State, bool) {
	c, ok := s.conversations[id]
	if !ok || c.IsEmpty() {
		return s, false
	}
	return s.update(id, func(c *entities.Conversation) {
		c.Messages[len(c.Messages)-1].Content = content
	})
}

// TruncateAndReplace keeps the first keep messages and appends msgs after them
func (s State) TruncateAndReplace(id string, keep int, msgs []entities.Message) (State, error) {
	c, ok := s.conversations[id]
	if !ok {
		return s, fmt.Errorf("truncate %q: %w", id, ErrConversationNotFound)
	}
	if keep < 0 || keep > len(c.Messages) {
		return s, fmt.Errorf("truncate %q at %d of %d: %w", id, keep, len(c.Messages), ErrInvalidIndex)
	}

	next, _ := s.update(id, func(c *entities.Conversation) {
		kept := make([]entities.Message, 0, keep+len(msgs))
		kept = append(kept, c.Messages[:keep]...)
		for _, m := range msgs {
			if n := len(kept); n > 0 && m.Timestamp < kept[n-1].Timestamp {
				m.Timestamp = kept[n-1].Timestamp
			}
			kept = append(kept, m)
		}
		c.Messages = kept
	})
	return next, nil
}

// SelectConversation makes id the active conversation
func (s State) SelectConversation(id string) (State, bool) {
	if _, ok := s.conversations[id]; !ok {
		return s, false
	}
	if s.activeID == id {
		return s, true
	}
	next := s.clone()
	next.activeID = id
	return next, true
}

// ClearSelection leaves no conversation active
func (s State) ClearSelection() State {
	if s.activeID == "" {
		return s
	}
	next := s.clone()
	next.activeID = ""
	return next
}

// ActiveID returns the active conversation id, empty when none is selected
func (s State) ActiveID() string {
	return s.activeID
}

// Active returns a copy of the active conversation
func (s State) Active() (entities.Conversation, bool) {
	return s.Conversation(s.activeID)
}

// Conversation returns a copy of the conversation with the given id
func (s State) Conversation(id string) (entities.Conversation, bool) {
	c, ok := s.conversations[id]
	if !ok {
		return entities.Conversation{}, false
	}
	return c.Clone(), true
}

// Contains reports whether the id is in the store
func (s State) Contains(id string) bool {
	_, ok := s.conversations[id]
	return ok
}

// Conversations returns copies of all conversations in display order
func (s State) Conversations() []entities.Conversation {
	out := make([]entities.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id].Clone())
	}
	return out
}

// Len returns the number of conversations
func (s State) Len() int {
	return len(s.order)
}
