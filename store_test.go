package relaychat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id int64, sender, receiver, content string) Message {
	return Message{ID: id, Sender: sender, Receiver: receiver, Content: content, Timestamp: "2026-01-02T15:04:05Z"}
}

func ids(msgs []Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestConversationStore_Seed(t *testing.T) {
	t.Run("sorts ascending by id", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.Seed("bob", []Message{
			msg(2, "bob", "alice", "hi"),
			msg(1, "alice", "bob", "yo"),
		})
		assert.Equal(t, []int64{1, 2}, ids(s.MessagesByUser("bob")))
	})

	t.Run("filters messages outside the pair", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.Seed("bob", []Message{
			msg(1, "alice", "bob", "for bob"),
			msg(2, "carol", "alice", "wrong partner"),
			msg(3, "carol", "dave", "wrong pair entirely"),
		})
		assert.Equal(t, []int64{1}, ids(s.MessagesByUser("bob")))
	})

	t.Run("full replacement leaves no residue", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.Seed("bob", []Message{msg(1, "bob", "alice", "old")})
		s.Seed("bob", []Message{msg(2, "bob", "alice", "new")})
		assert.Equal(t, []int64{2}, ids(s.MessagesByUser("bob")))
	})

	t.Run("drops duplicate ids within the snapshot", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.Seed("bob", []Message{
			msg(1, "bob", "alice", "first"),
			msg(1, "bob", "alice", "dup"),
		})
		require.Len(t, s.MessagesByUser("bob"), 1)
		assert.Equal(t, "first", s.MessagesByUser("bob")[0].Content)
	})
}

func TestConversationStore_UpsertCreate(t *testing.T) {
	t.Run("inserts sorted", func(t *testing.T) {
		s := NewConversationStore("alice")
		assert.True(t, s.UpsertCreate(msg(5, "alice", "bob", "x")))
		assert.True(t, s.UpsertCreate(msg(3, "bob", "alice", "y")))
		assert.Equal(t, []int64{3, 5}, ids(s.MessagesByUser("bob")))
	})

	t.Run("duplicate id is a no-op", func(t *testing.T) {
		s := NewConversationStore("alice")
		assert.True(t, s.UpsertCreate(msg(5, "alice", "bob", "x")))
		assert.False(t, s.UpsertCreate(msg(5, "alice", "bob", "x")))
		assert.Len(t, s.MessagesByUser("bob"), 1)
	})

	t.Run("idempotent under any order and repetition", func(t *testing.T) {
		s := NewConversationStore("alice")
		sequence := []int64{4, 2, 4, 1, 2, 2, 3, 1, 4}
		for _, id := range sequence {
			s.UpsertCreate(msg(id, "bob", "alice", "m"))
		}
		assert.Equal(t, []int64{1, 2, 3, 4}, ids(s.MessagesByUser("bob")))
	})

	t.Run("wrong pair never inserted", func(t *testing.T) {
		s := NewConversationStore("alice")
		assert.False(t, s.UpsertCreate(msg(1, "carol", "dave", "not ours")))
		assert.Empty(t, s.Partners())
	})
}

func TestConversationStore_ApplyUpdate(t *testing.T) {
	t.Run("replaces in place", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.UpsertCreate(msg(1, "alice", "bob", "before"))
		assert.True(t, s.ApplyUpdate(msg(1, "alice", "bob", "after")))
		got := s.MessagesByUser("bob")
		require.Len(t, got, 1)
		assert.Equal(t, "after", got[0].Content)
	})

	t.Run("unknown id leaves list unchanged", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.UpsertCreate(msg(1, "alice", "bob", "only"))
		assert.False(t, s.ApplyUpdate(msg(99, "alice", "bob", "ghost")))
		assert.Equal(t, []int64{1}, ids(s.MessagesByUser("bob")))
	})
}

func TestConversationStore_ApplyDelete(t *testing.T) {
	t.Run("removes by id", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.Seed("bob", []Message{
			msg(2, "bob", "alice", "hi"),
			msg(1, "alice", "bob", "yo"),
		})
		assert.True(t, s.ApplyDelete(msg(2, "bob", "alice", "")))
		assert.Equal(t, []int64{1}, ids(s.MessagesByUser("bob")))
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.UpsertCreate(msg(1, "alice", "bob", "keep"))
		assert.False(t, s.ApplyDelete(msg(42, "alice", "bob", "")))
		assert.Equal(t, []int64{1}, ids(s.MessagesByUser("bob")))
	})
}

func TestConversationStore_Accessors(t *testing.T) {
	t.Run("MessagesByUser returns a copy", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.UpsertCreate(msg(1, "alice", "bob", "original"))
		got := s.MessagesByUser("bob")
		got[0].Content = "mutated"
		assert.Equal(t, "original", s.MessagesByUser("bob")[0].Content)
	})

	t.Run("Partners sorted", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.UpsertCreate(msg(1, "alice", "carol", "x"))
		s.UpsertCreate(msg(2, "bob", "alice", "y"))
		assert.Equal(t, []string{"bob", "carol"}, s.Partners())
	})

	t.Run("Clear drops everything", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.UpsertCreate(msg(1, "alice", "bob", "x"))
		s.Clear()
		assert.Empty(t, s.MessagesByUser("bob"))
		assert.False(t, s.Has("bob"))
	})
}

// Interleaving of history seed and live deltas in either order converges
// to the same conversation.
func TestConversationStore_SeedAndLiveInterleaving(t *testing.T) {
	seed := []Message{
		msg(1, "alice", "bob", "yo"),
		msg(2, "bob", "alice", "hi"),
	}
	live := msg(2, "bob", "alice", "hi")

	t.Run("live before seed", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.UpsertCreate(live)
		s.Seed("bob", seed)
		assert.Equal(t, []int64{1, 2}, ids(s.MessagesByUser("bob")))
	})

	t.Run("live after seed", func(t *testing.T) {
		s := NewConversationStore("alice")
		s.Seed("bob", seed)
		s.UpsertCreate(live)
		assert.Equal(t, []int64{1, 2}, ids(s.MessagesByUser("bob")))
	})
}
