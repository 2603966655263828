package relaychat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventJSON(t *testing.T, action string, m Message) []byte {
	t.Helper()
	raw, err := json.Marshal(wireEvent{Message: m, Action: action})
	require.NoError(t, err)
	return raw
}

func TestEventRouter_OnEvent(t *testing.T) {
	t.Run("create inserts", func(t *testing.T) {
		store := NewConversationStore("alice")
		r := NewEventRouter(store, nil, false)
		r.OnEvent(eventJSON(t, "CREATE", msg(1, "bob", "alice", "hi")))
		assert.Equal(t, []int64{1}, ids(store.MessagesByUser("bob")))
	})

	t.Run("missing action treated as create", func(t *testing.T) {
		store := NewConversationStore("alice")
		r := NewEventRouter(store, nil, false)
		r.OnEvent(eventJSON(t, "", msg(7, "bob", "alice", "plain broadcast")))
		assert.Equal(t, []int64{7}, ids(store.MessagesByUser("bob")))
	})

	t.Run("duplicate create delivered twice applies once", func(t *testing.T) {
		store := NewConversationStore("alice")
		r := NewEventRouter(store, nil, false)
		raw := eventJSON(t, "CREATE", msg(5, "alice", "bob", "x"))
		r.OnEvent(raw)
		r.OnEvent(raw)
		assert.Len(t, store.MessagesByUser("bob"), 1)
	})

	t.Run("update replaces content", func(t *testing.T) {
		store := NewConversationStore("alice")
		store.UpsertCreate(msg(3, "bob", "alice", "before"))
		r := NewEventRouter(store, nil, false)
		r.OnEvent(eventJSON(t, "UPDATE", msg(3, "bob", "alice", "after")))
		assert.Equal(t, "after", store.MessagesByUser("bob")[0].Content)
	})

	t.Run("update for unseen message dropped", func(t *testing.T) {
		store := NewConversationStore("alice")
		r := NewEventRouter(store, nil, false)
		r.OnEvent(eventJSON(t, "UPDATE", msg(3, "bob", "alice", "ghost")))
		assert.Empty(t, store.MessagesByUser("bob"))
	})

	t.Run("delete removes", func(t *testing.T) {
		store := NewConversationStore("alice")
		store.UpsertCreate(msg(3, "bob", "alice", "gone soon"))
		r := NewEventRouter(store, nil, false)
		r.OnEvent(eventJSON(t, "DELETE", msg(3, "bob", "alice", "")))
		assert.Empty(t, store.MessagesByUser("bob"))
	})

	t.Run("malformed payload dropped without panic", func(t *testing.T) {
		store := NewConversationStore("alice")
		store.UpsertCreate(msg(1, "bob", "alice", "keep"))
		r := NewEventRouter(store, nil, false)
		assert.NotPanics(t, func() {
			r.OnEvent([]byte(`{"id": not json`))
			r.OnEvent(nil)
		})
		assert.Equal(t, []int64{1}, ids(store.MessagesByUser("bob")))
	})

	t.Run("unrecognized action dropped", func(t *testing.T) {
		store := NewConversationStore("alice")
		r := NewEventRouter(store, nil, false)
		r.OnEvent(eventJSON(t, "EXPLODE", msg(1, "bob", "alice", "x")))
		assert.Empty(t, store.MessagesByUser("bob"))
	})
}

func TestEventRouter_EchoSuppression(t *testing.T) {
	echo := eventJSON(t, "CREATE", msg(9, "alice", "bob", "my own send"))

	t.Run("off by default applies self echo", func(t *testing.T) {
		store := NewConversationStore("alice")
		r := NewEventRouter(store, nil, false)
		r.OnEvent(echo)
		assert.Len(t, store.MessagesByUser("bob"), 1)
	})

	t.Run("on drops self echo but keeps inbound", func(t *testing.T) {
		store := NewConversationStore("alice")
		r := NewEventRouter(store, nil, true)
		r.OnEvent(echo)
		r.OnEvent(eventJSON(t, "CREATE", msg(10, "bob", "alice", "inbound")))
		assert.Equal(t, []int64{10}, ids(store.MessagesByUser("bob")))
	})
}

func TestEventRouter_OnApplied(t *testing.T) {
	t.Run("fires for events that changed the store", func(t *testing.T) {
		store := NewConversationStore("alice")
		r := NewEventRouter(store, nil, false)
		var seen []Event
		r.OnApplied(func(ev Event) { seen = append(seen, ev) })

		r.OnEvent(eventJSON(t, "CREATE", msg(1, "bob", "alice", "hi")))
		r.OnEvent(eventJSON(t, "UPDATE", msg(1, "bob", "alice", "hi!")))
		r.OnEvent(eventJSON(t, "DELETE", msg(1, "bob", "alice", "")))

		require.Len(t, seen, 3)
		assert.Equal(t, ActionCreate, seen[0].Action)
		assert.Equal(t, ActionUpdate, seen[1].Action)
		assert.Equal(t, ActionDelete, seen[2].Action)
	})

	t.Run("silent for duplicates and drops", func(t *testing.T) {
		store := NewConversationStore("alice")
		r := NewEventRouter(store, nil, false)
		fired := 0
		r.OnApplied(func(Event) { fired++ })

		raw := eventJSON(t, "CREATE", msg(1, "bob", "alice", "hi"))
		r.OnEvent(raw)
		r.OnEvent(raw)
		r.OnEvent(eventJSON(t, "UPDATE", msg(99, "bob", "alice", "unseen")))
		r.OnEvent(eventJSON(t, "PURGE", msg(2, "bob", "alice", "x")))

		assert.Equal(t, 1, fired)
	})
}
