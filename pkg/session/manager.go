package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/mazzlabs/sentinel/internal/logging"
	"github.com/mazzlabs/sentinel/pkg/domain"
	"github.com/mazzlabs/sentinel/pkg/ports"
)

// turnLockTTL bounds how long a replica may hold the distributed lock
// for one conversation while committing a turn.
const turnLockTTL = 30 * time.Second

// Ticket identifies one in-flight turn. It is issued by Begin and must
// be passed back to Commit and Finish.
type Ticket struct {
	conversationID string
	seq            uint64
	cancel         context.CancelFunc
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access for the engine. It enforces one
// in-flight turn per conversation with latest-wins semantics: Begin
// cancels the previous turn for the conversation, and only the newest
// ticket may commit its result to the store. Local serialization uses
// reference-counted per-conversation locks; an optional distributed
// locker extends the guarantee across replicas sharing a backend.
type Manager struct {
	store ports.SessionStore

	mu     sync.Mutex // Guards seq, active, and locks
	seq    uint64
	active map[string]*Ticket
	locks  map[string]*lockEntry

	locker ports.DistributedLocker // Optional distributed locker
	logger *slog.Logger
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) ManagerOption {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithManagerLogger configures a logger for the Manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a new session Manager over the given store.
func NewManager(store ports.SessionStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		active: make(map[string]*Ticket),
		locks:  make(map[string]*lockEntry),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin registers a new turn for the conversation, canceling any turn
// still in flight for it. The returned context is derived from ctx and
// is canceled when the turn is superseded or finished.
func (m *Manager) Begin(ctx context.Context, conversationID string) (context.Context, *Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.active[conversationID]; ok {
		m.logger.Info("superseding in-flight turn",
			"conversation_id", conversationID,
			"superseded_seq", prev.seq,
		)
		prev.cancel()
	}

	m.seq++
	turnCtx, cancel := context.WithCancel(ctx)
	ticket := &Ticket{conversationID: conversationID, seq: m.seq, cancel: cancel}
	m.active[conversationID] = ticket
	return turnCtx, ticket
}

// Commit persists the turn's final state, but only if the ticket is
// still the newest for its conversation. It reports whether the state
// was accepted; a superseded turn's result is discarded without error.
func (m *Manager) Commit(ctx context.Context, ticket *Ticket, state domain.State) (bool, error) {
	if !m.isLatest(ticket) {
		m.logger.Debug("discarding superseded turn result",
			"conversation_id", ticket.conversationID, "seq", ticket.seq)
		return false, nil
	}

	accepted := false
	err := m.WithLock(ctx, ticket.conversationID, func(ctx context.Context) error {
		// Re-check: a newer turn may have begun while we waited.
		if !m.isLatest(ticket) {
			return nil
		}
		if err := m.store.Update(ctx, state); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	return accepted, err
}

// Finish releases the ticket's bookkeeping and its derived context.
// Finishing a superseded ticket is a no-op.
func (m *Manager) Finish(ticket *Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active[ticket.conversationID] == ticket {
		delete(m.active, ticket.conversationID)
	}
	ticket.cancel()
}

// GetOrCreate loads the conversation's state, initializing a fresh one
// atomically when it does not exist yet.
func (m *Manager) GetOrCreate(ctx context.Context, conversationID string) (domain.State, error) {
	var state domain.State
	err := m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		var err error
		state, err = m.store.GetOrCreate(ctx, conversationID)
		return err
	})
	return state, err
}

// Get retrieves an existing session from the store.
func (m *Manager) Get(ctx context.Context, conversationID string) (domain.State, error) {
	return m.store.Get(ctx, conversationID)
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	return m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		return m.store.Delete(ctx, conversationID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying session store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}

// WithLock executes a function while holding the lock for the
// conversation, plus the distributed lock when one is configured.
func (m *Manager) WithLock(ctx context.Context, conversationID string, fn func(context.Context) error) error {
	entry := m.acquire(conversationID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(conversationID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, conversationID, turnLockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"conversation_id", conversationID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// isLatest reports whether the ticket is still the conversation's
// newest.
func (m *Manager) isLatest(ticket *Ticket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[ticket.conversationID] == ticket
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(conversationID) after unlocking.
func (m *Manager) acquire(conversationID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[conversationID]
	if !exists {
		entry = &lockEntry{}
		m.locks[conversationID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[conversationID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, conversationID)
	}
}
