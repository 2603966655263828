package relaychat

import (
	"sort"
	"sync"
)

// ============================================================================
// Conversation Store
// ============================================================================

// ConversationStore holds the local view of all conversations for one user.
// Conversations are keyed by the other participant's username; each list is
// kept sorted ascending by message id with at most one message per id.
//
// The store accepts mutations from the history loader and the live event
// router in any interleaving: creates are idempotent, updates and deletes
// for unknown ids are dropped. A goroutine-safe lock covers all access
// because the subscription read loop runs concurrently with callers.
type ConversationStore struct {
	mu          sync.RWMutex
	currentUser string
	messages    map[string][]Message
}

// NewConversationStore creates an empty store owned by currentUser.
// One store exists per active session; it is cleared on logout.
func NewConversationStore(currentUser string) *ConversationStore {
	return &ConversationStore{
		currentUser: currentUser,
		messages:    make(map[string][]Message),
	}
}

// partnerOf computes the conversation partner for a message relative to
// the store's owner. ok is false when the owner is on neither side, which
// marks a message that must never enter the store.
func (s *ConversationStore) partnerOf(m Message) (partner string, ok bool) {
	switch s.currentUser {
	case m.Sender:
		return m.Receiver, true
	case m.Receiver:
		return m.Sender, true
	default:
		return "", false
	}
}

// Seed replaces the stored list for partner with msgs, filtered to the
// {owner, partner} pair and sorted ascending by id. Full replacement, not
// merge: the caller's snapshot is authoritative for that partner.
func (s *ConversationStore) Seed(partner string, msgs []Message) {
	filtered := make([]Message, 0, len(msgs))
	seen := make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		p, ok := s.partnerOf(m)
		if !ok || p != partner {
			continue
		}
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		filtered = append(filtered, m)
	}
	sortByID(filtered)

	s.mu.Lock()
	s.messages[partner] = filtered
	s.mu.Unlock()
}

// UpsertCreate inserts a new message into its computed conversation.
// A message whose id is already present is a no-op, which makes the
// operation safe under at-least-once delivery. Returns whether the store
// changed.
func (s *ConversationStore) UpsertCreate(m Message) bool {
	partner, ok := s.partnerOf(m)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[partner]
	for _, existing := range list {
		if existing.ID == m.ID {
			return false
		}
	}
	list = append(list, m)
	sortByID(list)
	s.messages[partner] = list
	return true
}

// ApplyUpdate replaces the stored message with the same id in place.
// An update for an id the store has never seen is silently dropped; a
// later history reload picks it up.
func (s *ConversationStore) ApplyUpdate(m Message) bool {
	partner, ok := s.partnerOf(m)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[partner]
	for i, existing := range list {
		if existing.ID == m.ID {
			list[i] = m
			sortByID(list)
			return true
		}
	}
	return false
}

// ApplyDelete removes the message matching m.ID from its computed
// conversation. No-op if absent.
func (s *ConversationStore) ApplyDelete(m Message) bool {
	partner, ok := s.partnerOf(m)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[partner]
	for i, existing := range list {
		if existing.ID == m.ID {
			s.messages[partner] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// MessagesByUser returns a copy of the conversation with partner, sorted
// ascending by id. The copy never aliases store internals.
func (s *ConversationStore) MessagesByUser(partner string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages[partner]...)
}

// Has reports whether a conversation with partner has been seeded or
// received any message.
func (s *ConversationStore) Has(partner string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[partner]
	return ok
}

// Partners returns the usernames of all known conversations, sorted.
func (s *ConversationStore) Partners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partners := make([]string, 0, len(s.messages))
	for p := range s.messages {
		partners = append(partners, p)
	}
	sort.Strings(partners)
	return partners
}

// Owner returns the username the store was created for.
func (s *ConversationStore) Owner() string {
	return s.currentUser
}

// Clear drops every conversation. Called on logout.
func (s *ConversationStore) Clear() {
	s.mu.Lock()
	s.messages = make(map[string][]Message)
	s.mu.Unlock()
}

func sortByID(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
}
