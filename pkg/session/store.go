package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

const (
	// MaxSessions bounds how many conversations the store retains.
	MaxSessions = 20

	// MaxFileBytes bounds the serialized session table on disk.
	MaxFileBytes = 2 << 20

	fileVersion = 1
)

// fileEnvelope versions the on-disk layout so future readers can
// migrate old files instead of discarding them.
type fileEnvelope struct {
	Version  int                     `json:"version"`
	Sessions map[string]domain.State `json:"sessions"`
}

// Store implements ports.SessionStore on a single local JSON file.
//
// The store is bounded three ways: histories are truncated to
// domain.MaxHistoryPerSession messages, the session table is capped at
// MaxSessions conversations, and the serialized file at MaxFileBytes.
// When a bound is exceeded the least-recently-active session goes
// first (a session with no history counts as oldest; ties break on
// conversation id).
//
// Persistence is best-effort: read and write failures are logged and
// the store carries on in memory, so a full disk never breaks the
// conversation.
type Store struct {
	path         string
	logger       *slog.Logger
	cipher       *Cipher
	maxSessions  int
	maxFileBytes int

	mu       sync.Mutex
	sessions map[string]domain.State
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCipher encrypts the session file at rest.
func WithCipher(c *Cipher) Option {
	return func(s *Store) { s.cipher = c }
}

// WithMaxSessions overrides the session cap. Intended for device
// profiles with tighter storage than the default.
func WithMaxSessions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithMaxFileBytes overrides the file size cap.
func WithMaxFileBytes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxFileBytes = n
		}
	}
}

// Open loads the session file at path, or starts an empty table if it
// is missing, unreadable, or corrupt. If path is empty it defaults to
// ".sentinel/sessions.json".
func Open(path string, opts ...Option) *Store {
	if path == "" {
		path = filepath.Join(".sentinel", "sessions.json")
	}
	s := &Store{
		path:         path,
		logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
		maxSessions:  MaxSessions,
		maxFileBytes: MaxFileBytes,
		sessions:     make(map[string]domain.State),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	s.mu.Lock()
	s.pruneLocked()
	s.mu.Unlock()
	return s
}

// GetOrCreate returns the stored state for the conversation, inserting
// a fresh one when the id is unknown.
func (s *Store) GetOrCreate(ctx context.Context, conversationID string) (domain.State, error) {
	if conversationID == "" {
		return domain.State{}, fmt.Errorf("conversationID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.sessions[conversationID]; ok {
		return state.Clone(), nil
	}

	state := domain.NewState(conversationID)
	s.sessions[conversationID] = state
	s.persistLocked()
	return state.Clone(), nil
}

// Update replaces the conversation's entry with the finished turn,
// folding the turn's query and response into the history first.
func (s *Store) Update(ctx context.Context, state domain.State) error {
	if state.ConversationID == "" {
		return fmt.Errorf("conversationID cannot be empty")
	}

	archived := state.ArchiveTurn(domain.MaxHistoryPerSession)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[archived.ConversationID] = archived
	s.persistLocked()
	return nil
}

// Get retrieves the state for a conversation id.
func (s *Store) Get(ctx context.Context, conversationID string) (domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[conversationID]
	if !ok {
		return domain.State{}, domain.ErrSessionNotFound
	}
	return state.Clone(), nil
}

// List returns the known conversation ids in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the session. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[conversationID]; !ok {
		return nil
	}
	delete(s.sessions, conversationID)
	s.persistLocked()
	return nil
}

// persistLocked enforces the bounds and rewrites the session file.
// Callers must hold s.mu.
func (s *Store) persistLocked() {
	s.pruneLocked()

	data, err := s.serializeLocked()
	if err != nil {
		s.logger.Error("serialize session table", "error", err)
		return
	}

	for len(data) > s.maxFileBytes && len(s.sessions) > 1 {
		victim := s.leastRecentlyActiveLocked()
		s.logger.Warn("session file over size cap, dropping session",
			"conversation_id", victim, "bytes", len(data))
		delete(s.sessions, victim)
		if data, err = s.serializeLocked(); err != nil {
			s.logger.Error("serialize session table", "error", err)
			return
		}
	}

	// A single oversized session gets its history halved once; if it
	// is still over the cap we write it anyway rather than lose it.
	if len(data) > s.maxFileBytes && len(s.sessions) == 1 {
		for id, state := range s.sessions {
			half := len(state.History) / 2
			state.History = slices.Clone(state.History[half:])
			s.sessions[id] = state
			s.logger.Warn("session file over size cap, halving history",
				"conversation_id", id, "messages", len(state.History))
		}
		if data, err = s.serializeLocked(); err != nil {
			s.logger.Error("serialize session table", "error", err)
			return
		}
	}

	s.writeFile(data)
}

// pruneLocked truncates histories and evicts sessions beyond the cap.
// Callers must hold s.mu.
func (s *Store) pruneLocked() {
	for id, state := range s.sessions {
		if len(state.History) > domain.MaxHistoryPerSession {
			state.History = slices.Clone(state.History[len(state.History)-domain.MaxHistoryPerSession:])
			s.sessions[id] = state
		}
	}
	for len(s.sessions) > s.maxSessions {
		victim := s.leastRecentlyActiveLocked()
		s.logger.Info("session cap reached, evicting", "conversation_id", victim)
		delete(s.sessions, victim)
	}
}

// leastRecentlyActiveLocked ranks sessions by the timestamp of their
// newest history entry. Callers must hold s.mu.
func (s *Store) leastRecentlyActiveLocked() string {
	var victim string
	var victimAt time.Time
	first := true
	for id, state := range s.sessions {
		at := lastActive(state)
		if first || at.Before(victimAt) || (at.Equal(victimAt) && id < victim) {
			victim, victimAt, first = id, at, false
		}
	}
	return victim
}

func lastActive(state domain.State) time.Time {
	if len(state.History) == 0 {
		return time.Time{}
	}
	return state.History[len(state.History)-1].Timestamp
}

func (s *Store) serializeLocked() ([]byte, error) {
	return json.MarshalIndent(fileEnvelope{Version: fileVersion, Sessions: s.sessions}, "", "  ")
}

// writeFile persists data atomically: temp file in the same directory,
// fsync, then rename over the destination.
func (s *Store) writeFile(data []byte) {
	if s.cipher != nil {
		sealed, err := s.cipher.Encrypt(data)
		if err != nil {
			s.logger.Error("encrypt session file", "error", err)
			return
		}
		data = sealed
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Error("ensure session directory", "error", err)
		return
	}

	tmpFile, err := os.CreateTemp(dir, "tmp-sessions-*.json")
	if err != nil {
		s.logger.Error("create temp session file", "error", err)
		return
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		s.logger.Error("write temp session file", "error", err)
		return
	}
	if err := tmpFile.Sync(); err != nil {
		s.logger.Error("fsync temp session file", "error", err)
		return
	}
	if err := tmpFile.Close(); err != nil {
		s.logger.Error("close temp session file", "error", err)
		return
	}

	// On Windows, os.Rename fails if the destination exists.
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Remove(s.path); err != nil {
			s.logger.Error("replace session file", "error", err)
			return
		}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		s.logger.Error("rename temp session file", "error", err)
	}
}

// load reads the session file into memory. Any failure leaves the
// store empty; the next update rewrites the file.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read session file, starting empty", "error", err)
		}
		return
	}

	if s.cipher != nil {
		plain, err := s.cipher.Decrypt(data)
		if err != nil {
			s.logger.Warn("decrypt session file, starting empty", "error", err)
			return
		}
		data = plain
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Version == fileVersion {
		if envelope.Sessions != nil {
			s.sessions = envelope.Sessions
		}
		return
	} else if err == nil && envelope.Version > fileVersion {
		s.logger.Warn("session file has unknown version, starting empty", "version", envelope.Version)
		return
	}

	// Legacy layout: a bare session table without the version envelope.
	var legacy map[string]domain.State
	if err := json.Unmarshal(data, &legacy); err != nil {
		s.logger.Warn("session file is corrupt, starting empty", "path", s.path)
		return
	}
	if len(legacy) > 0 {
		s.logger.Info("migrating legacy session file", "sessions", len(legacy))
		s.sessions = legacy
	}
}
