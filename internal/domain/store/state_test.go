package store

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/chatbae/internal/domain/entities"
)

var baseTime = time.UnixMilli(1_700_000_000_000)

func seeded(t *testing.T, ids ...string) State {
	t.Helper()
	s := New()
	// Created in reverse so the display order matches ids.
	for i := len(ids) - 1; i >= 0; i-- {
		s = s.CreateConversation(ids[i], baseTime.Add(time.Duration(len(ids)-i)*time.Second))
	}
	return s
}

func order(s State) []string {
	out := make([]string, 0, s.Len())
	for _, c := range s.Conversations() {
		out = append(out, c.ID)
	}
	return out
}

func TestCreateConversation(t *testing.T) {
	s := New()
	s1 := s.CreateConversation("a", baseTime)
	s2 := s1.CreateConversation("b", baseTime.Add(time.Second))

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, []string{"a"}, order(s1))
	assert.Equal(t, []string{"b", "a"}, order(s2))
	assert.Equal(t, "b", s2.ActiveID())

	c, ok := s2.Conversation("b")
	require.True(t, ok)
	assert.Equal(t, entities.DefaultTitle, c.Title)
	assert.Empty(t, c.Messages)
	assert.False(t, c.IsPinned)
}

func TestDeleteConversation(t *testing.T) {
	t.Run("unknown id is a no-op", func(t *testing.T) {
		s := seeded(t, "a", "b")
		next, ok := s.DeleteConversation("x")
		assert.False(t, ok)
		assert.Equal(t, order(s), order(next))
		assert.Equal(t, s.ActiveID(), next.ActiveID())
	})

	t.Run("active falls back to first pinned", func(t *testing.T) {
		s := seeded(t, "a", "b", "c")
		s, _ = s.TogglePin("c")
		s, _ = s.SelectConversation("a")

		next, ok := s.DeleteConversation("a")
		require.True(t, ok)
		assert.Equal(t, "c", next.ActiveID())
		assert.Equal(t, []string{"b", "c"}, order(next))
	})

	t.Run("active falls back to first remaining", func(t *testing.T) {
		s := seeded(t, "a", "b", "c")
		s, _ = s.SelectConversation("b")

		next, _ := s.DeleteConversation("b")
		assert.Equal(t, "a", next.ActiveID())
	})

	t.Run("deleting the only conversation clears active", func(t *testing.T) {
		s := seeded(t, "a")
		next, ok := s.DeleteConversation("a")
		require.True(t, ok)
		assert.Equal(t, "", next.ActiveID())
		assert.Equal(t, 0, next.Len())
	})

	t.Run("deleting inactive keeps active", func(t *testing.T) {
		s := seeded(t, "a", "b")
		s, _ = s.SelectConversation("a")
		next, _ := s.DeleteConversation("b")
		assert.Equal(t, "a", next.ActiveID())
	})

	t.Run("original state untouched", func(t *testing.T) {
		s := seeded(t, "a", "b")
		_, _ = s.DeleteConversation("a")
		assert.Equal(t, []string{"a", "b"}, order(s))
	})
}

func TestRenameConversation(t *testing.T) {
	s := seeded(t, "a")

	tests := []struct {
		name  string
		id    string
		title string
		ok    bool
		want  string
	}{
		{"trims title", "a", "  First Date Ideas ", true, "First Date Ideas"},
		{"blank rejected", "a", "   ", false, entities.DefaultTitle},
		{"unknown id", "x", "Whatever", false, entities.DefaultTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := s.RenameConversation(tt.id, tt.title)
			assert.Equal(t, tt.ok, ok)
			c, _ := next.Conversation("a")
			assert.Equal(t, tt.want, c.Title)
		})
	}
}

func TestTogglePin(t *testing.T) {
	s := seeded(t, "a")

	pinned, ok := s.TogglePin("a")
	require.True(t, ok)
	c, _ := pinned.Conversation("a")
	assert.True(t, c.IsPinned)

	unpinned, _ := pinned.TogglePin("a")
	c, _ = unpinned.Conversation("a")
	assert.False(t, c.IsPinned)

	_, ok = s.TogglePin("x")
	assert.False(t, ok)
}

func TestAppendMessage(t *testing.T) {
	s := seeded(t, "a")

	next, err := s.AppendMessage("a", entities.NewUserMessage("hi", baseTime.Add(time.Minute)))
	require.NoError(t, err)
	next, err = next.AppendMessage("a", entities.NewModelMessage("hey", baseTime))
	require.NoError(t, err)

	c, _ := next.Conversation("a")
	require.Len(t, c.Messages, 2)
	assert.Equal(t, c.Messages[0].Timestamp, c.Messages[1].Timestamp, "older timestamp is clamped")

	original, _ := s.Conversation("a")
	assert.Empty(t, original.Messages)
}

func TestAppendMessageUnknownIDLeavesStoreUnchanged(t *testing.T) {
	s := seeded(t, "a", "b")
	s, _ = s.AppendMessage("a", entities.NewUserMessage("hello", baseTime))
	before := s.Conversations()

	next, err := s.AppendMessage("x", entities.NewUserMessage("lost", baseTime))
	require.ErrorIs(t, err, ErrConversationNotFound)

	assert.True(t, reflect.DeepEqual(before, next.Conversations()))
	assert.Equal(t, s.ActiveID(), next.ActiveID())
}

func TestReplaceTrailingMessage(t *testing.T) {
	s := seeded(t, "a")
	s, _ = s.AppendMessage("a", entities.NewUserMessage("hi", baseTime))
	s, _ = s.AppendMessage("a", entities.NewModelMessage("", baseTime.Add(time.Second)))

	growing := []string{"H", "He", "Hel", "Hell", "Hello"}
	prevLen := 0
	for _, content := range growing {
		var ok bool
		s, ok = s.ReplaceTrailingMessage("a", content)
		require.True(t, ok)

		c, _ := s.Conversation("a")
		assert.Len(t, c.Messages, 2)
		last, _ := c.LastMessage()
		assert.GreaterOrEqual(t, len(last.Content), prevLen)
		assert.Equal(t, entities.RoleModel, last.Role)
		assert.Equal(t, baseTime.Add(time.Second).UnixMilli(), last.Timestamp)
		prevLen = len(last.Content)
	}

	empty := seeded(t, "e")
	_, ok := empty.ReplaceTrailingMessage("e", "x")
	assert.False(t, ok)

	_, ok = s.ReplaceTrailingMessage("missing", "x")
	assert.False(t, ok)
}

func TestTruncateAndReplace(t *testing.T) {
	build := func() State {
		s := seeded(t, "a")
		for i := 0; i < 4; i++ {
			msg := entities.NewUserMessage(fmt.Sprintf("m%d", i), baseTime.Add(time.Duration(i)*time.Second))
			s, _ = s.AppendMessage("a", msg)
		}
		return s
	}

	replacement := []entities.Message{entities.NewUserMessage("edited", baseTime.Add(time.Hour))}

	for k := 0; k <= 4; k++ {
		t.Run(fmt.Sprintf("keep %d", k), func(t *testing.T) {
			s := build()
			original, _ := s.Conversation("a")

			next, err := s.TruncateAndReplace("a", k, replacement)
			require.NoError(t, err)

			c, _ := next.Conversation("a")
			want := append(append([]entities.Message{}, original.Messages[:k]...), replacement...)
			assert.Equal(t, want, c.Messages)
		})
	}

	s := build()
	_, err := s.TruncateAndReplace("a", 5, replacement)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = s.TruncateAndReplace("a", -1, replacement)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = s.TruncateAndReplace("x", 0, replacement)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSelection(t *testing.T) {
	s := seeded(t, "a", "b")

	next, ok := s.SelectConversation("b")
	require.True(t, ok)
	assert.Equal(t, "b", next.ActiveID())

	_, ok = s.SelectConversation("x")
	assert.False(t, ok)

	cleared := next.ClearSelection()
	assert.Equal(t, "", cleared.ActiveID())
	_, ok = cleared.Active()
	assert.False(t, ok)
}

func TestHydrate(t *testing.T) {
	convs := []entities.Conversation{
		{ID: "a", Title: "Old", CreatedAt: 100},
		{ID: "b", Title: "", CreatedAt: 200, Messages: []entities.Message{{Role: entities.RoleUser, Content: "x", Timestamp: 5000}}},
		{ID: "a", Title: "Duplicate", CreatedAt: 300},
		{ID: "c", Title: "Newest created", CreatedAt: 400},
	}

	t.Run("dangling active id picks most recently active", func(t *testing.T) {
		s := Hydrate(convs, "gone")
		assert.Equal(t, []string{"a", "b", "c"}, order(s))
		assert.Equal(t, "b", s.ActiveID())

		a, _ := s.Conversation("a")
		assert.Equal(t, "Old", a.Title)
		b, _ := s.Conversation("b")
		assert.Equal(t, entities.DefaultTitle, b.Title)
	})

	t.Run("valid active id is kept", func(t *testing.T) {
		s := Hydrate(convs, "c")
		assert.Equal(t, "c", s.ActiveID())
	})

	t.Run("missing active id picks most recently active", func(t *testing.T) {
		s := Hydrate(convs, "")
		assert.Equal(t, "b", s.ActiveID())
	})

	t.Run("newest conversation without messages", func(t *testing.T) {
		s := Hydrate([]entities.Conversation{
			{ID: "a", CreatedAt: 1000},
			{ID: "b", CreatedAt: 5000},
		}, "")
		assert.Equal(t, "b", s.ActiveID())
	})

	t.Run("no active id on empty store", func(t *testing.T) {
		s := Hydrate(nil, "")
		assert.Equal(t, "", s.ActiveID())
	})

	t.Run("dangling id on empty store", func(t *testing.T) {
		s := Hydrate(nil, "gone")
		assert.Equal(t, "", s.ActiveID())
		assert.Equal(t, 0, s.Len())
	})
}

func TestReadersReturnCopies(t *testing.T) {
	s := seeded(t, "a")
	s, _ = s.AppendMessage("a", entities.NewUserMessage("hi", baseTime))

	c, _ := s.Conversation("a")
	c.Messages[0].Content = "tampered"
	c.Title = "tampered"

	again, _ := s.Conversation("a")
	assert.Equal(t, "hi", again.Messages[0].Content)
	assert.Equal(t, entities.DefaultTitle, again.Title)
}

func TestZeroValueState(t *testing.T) {
	var s State
	assert.Equal(t, 0, s.Len())

	next := s.CreateConversation("a", baseTime)
	assert.Equal(t, 1, next.Len())
}
