package relaychat

import (
	"context"
	"fmt"
)

// ============================================================================
// History Loader
// ============================================================================

// LoadHistory fetches the complete message history in one bulk call,
// partitions it by conversation partner, and seeds the store once per
// partner. The fetch either succeeds as a unit or nothing is applied;
// seeding only starts after the snapshot is fully in hand.
func (s *Session) LoadHistory(ctx context.Context) error {
	store := s.conversationStore()
	if store == nil {
		return ErrNotAuthenticated
	}

	msgs, err := s.client.History(ctx)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	partitions := make(map[string][]Message)
	for _, m := range msgs {
		partner, ok := store.partnerOf(m)
		if !ok {
			// History for another principal; never seeded.
			s.logger.Warn("history message for wrong pair dropped", "id", m.ID)
			continue
		}
		partitions[partner] = append(partitions[partner], m)
	}
	for partner, list := range partitions {
		store.Seed(partner, list)
	}

	s.logger.Info("history seeded", "messages", len(msgs), "conversations", len(partitions))
	return nil
}

// ChatHistory returns the conversation with partner. If the store already
// holds that conversation the cached list is returned without a network
// call; otherwise the full history is fetched and filtered to the pair.
func (s *Session) ChatHistory(ctx context.Context, partner string) ([]Message, error) {
	store := s.conversationStore()
	if store == nil {
		return nil, ErrNotAuthenticated
	}

	if store.Has(partner) {
		return store.MessagesByUser(partner), nil
	}

	msgs, err := s.client.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	store.Seed(partner, msgs)
	return store.MessagesByUser(partner), nil
}
