package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mazzlabs/sentinel/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// indexHorizon scores sessions without a TTL: 2100-01-01, far enough.
const indexHorizon = 4102444800

// Store implements ports.SessionStore using Redis. It suits the server
// profile where several replicas share one session backend; retention
// is handled by TTL instead of the file store's table bounds.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for sessions. Each update slides it.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "sentinel:session:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(conversationID string) string {
	return s.prefix + conversationID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// GetOrCreate loads the conversation or initializes a fresh one. The
// insert uses SETNX so two replicas racing on a new id agree on one
// winner.
func (s *Store) GetOrCreate(ctx context.Context, conversationID string) (domain.State, error) {
	state, err := s.Get(ctx, conversationID)
	if err == nil {
		return state, nil
	}
	if err != domain.ErrSessionNotFound {
		return domain.State{}, err
	}

	fresh := domain.NewState(conversationID)
	data, err := json.Marshal(fresh)
	if err != nil {
		return domain.State{}, fmt.Errorf("failed to marshal state: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key(conversationID), data, s.ttl).Result()
	if err != nil {
		return domain.State{}, fmt.Errorf("failed to initialize session: %w", err)
	}
	if !created {
		// Another replica won the race; use its entry.
		return s.Get(ctx, conversationID)
	}

	if err := s.index(ctx, conversationID); err != nil {
		return domain.State{}, err
	}
	return fresh, nil
}

// Update folds the finished turn into the history and persists it.
func (s *Store) Update(ctx context.Context, state domain.State) error {
	if state.ConversationID == "" {
		return fmt.Errorf("conversationID cannot be empty")
	}
	archived := state.ArchiveTurn(domain.MaxHistoryPerSession)

	data, err := json.Marshal(archived)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	pipe := s.client.Pipeline()

	// 1. Save JSON with TTL (0 = no expiration).
	pipe.Set(ctx, s.key(archived.ConversationID), data, s.ttl)

	// 2. Add to Index (ZSET), scored by expiry.
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  s.score(),
		Member: archived.ConversationID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Get retrieves the state from Redis.
func (s *Store) Get(ctx context.Context, conversationID string) (domain.State, error) {
	val, err := s.client.Get(ctx, s.key(conversationID)).Result()
	if err != nil {
		if err == backend.Nil {
			return domain.State{}, domain.ErrSessionNotFound
		}
		return domain.State{}, fmt.Errorf("failed to get from redis: %w", err)
	}

	var state domain.State
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return domain.State{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return state, nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	pipe := s.client.Pipeline()

	pipe.Del(ctx, s.key(conversationID))
	pipe.ZRem(ctx, s.indexKey(), conversationID)

	_, err := pipe.Exec(ctx)
	return err
}

// List returns the known conversation ids in lexical order. Expired
// entries are lazily pruned from the index first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	// ZREMRANGEBYSCORE key -inf (now); with no TTL everything scores
	// at the horizon and nothing is removed.
	now := float64(time.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sort.Strings(sessions)
	return sessions, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) index(ctx context.Context, conversationID string) error {
	err := s.client.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  s.score(),
		Member: conversationID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (s *Store) score() float64 {
	if s.ttl == 0 {
		return indexHorizon
	}
	return float64(time.Now().Add(s.ttl).Unix())
}
