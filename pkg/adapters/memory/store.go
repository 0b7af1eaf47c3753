package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

// Store implements ports.SessionStore in memory.
// Safe for concurrent use. Suits tests and ephemeral deployments where
// sessions may vanish on restart.
type Store struct {
	data map[string]domain.State
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]domain.State),
	}
}

// GetOrCreate returns the stored state or initializes a fresh one.
func (s *Store) GetOrCreate(ctx context.Context, conversationID string) (domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.data[conversationID]; ok {
		return state.Clone(), nil
	}

	state := domain.NewState(conversationID)
	s.data[conversationID] = state
	return state.Clone(), nil
}

// Update folds the finished turn into the history and stores it.
// The state is cloned on write so the caller cannot mutate the stored
// copy afterwards.
func (s *Store) Update(ctx context.Context, state domain.State) error {
	archived := state.ArchiveTurn(domain.MaxHistoryPerSession)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[archived.ConversationID] = archived
	return nil
}

// Get retrieves the state. A copy is returned so the caller cannot
// mutate store state directly.
func (s *Store) Get(ctx context.Context, conversationID string) (domain.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[conversationID]
	if !ok {
		return domain.State{}, domain.ErrSessionNotFound
	}
	return state.Clone(), nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, conversationID)
	return nil
}

// List returns the known conversation ids in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
