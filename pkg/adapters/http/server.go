// Package http exposes the conversation engine over a JSON API: turn
// execution, session inspection, a live event stream and Prometheus
// metrics. Hosts that cannot embed the engine directly talk to this
// surface instead.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mazzlabs/sentinel"
	"github.com/mazzlabs/sentinel/internal/logging"
	"github.com/mazzlabs/sentinel/pkg/domain"
)

// Engine is the slice of the conversation engine the API needs.
// *sentinel.Engine satisfies it.
type Engine interface {
	RunTurn(ctx context.Context, conversationID, query, screenContext string) (domain.State, error)
	Sessions(ctx context.Context) ([]string, error)
	Session(ctx context.Context, conversationID string) (domain.State, error)
	DeleteSession(ctx context.Context, conversationID string) error
}

// TurnRequest is the body of POST /turns. An empty conversation id
// starts a fresh conversation.
type TurnRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Query          string `json:"query"`
	ScreenContext  string `json:"screen_context,omitempty"`
}

// TurnResponse carries the host-facing outcome of a turn.
type TurnResponse struct {
	ConversationID string         `json:"conversation_id"`
	Intent         string         `json:"intent,omitempty"`
	Response       string         `json:"response,omitempty"`
	Action         *domain.Action `json:"action,omitempty"`
	NeedsUserInput bool           `json:"needs_user_input,omitempty"`
	HaltReason     string         `json:"halt_reason,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// SessionList is the body of GET /sessions.
type SessionList struct {
	Sessions []string `json:"sessions"`
}

// Server routes API requests to the engine.
type Server struct {
	engine      Engine
	streams     *StreamManager
	metrics     http.Handler
	logger      *slog.Logger
	turnTimeout time.Duration
}

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the server logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStreams attaches an externally built stream manager so the
// embedder can wire its Hooks into the engine.
func WithStreams(streams *StreamManager) Option {
	return func(s *Server) { s.streams = streams }
}

// WithMetricsHandler overrides the GET /metrics handler, for engines
// registered on a non-default Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTurnTimeout bounds each turn. Zero means no bound beyond the
// request context.
func WithTurnTimeout(d time.Duration) Option {
	return func(s *Server) { s.turnTimeout = d }
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		engine: engine,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.streams == nil {
		s.streams = NewStreamManager()
	}
	if s.metrics == nil {
		s.metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Post("/turns", s.RunTurn)
	r.Get("/sessions", s.ListSessions)
	r.Get("/sessions/{id}", s.GetSession)
	r.Delete("/sessions/{id}", s.DeleteSession)
	r.Get("/events", s.SubscribeEvents)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Method(http.MethodGet, "/metrics", s.metrics)

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RunTurn handles the POST /turns request.
func (s *Server) RunTurn(w http.ResponseWriter, r *http.Request) {
	var body TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		s.logger.Warn("turn: invalid request body", "err", err)
		return
	}

	conversationID := strings.TrimSpace(body.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	ctx := r.Context()
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}

	state, err := s.engine.RunTurn(ctx, conversationID, body.Query, body.ScreenContext)
	if err != nil {
		s.turnError(w, conversationID, err)
		return
	}

	writeJSON(w, http.StatusOK, turnResponseFrom(state), s.logger)
}

// turnError maps engine failures onto HTTP statuses. Input rejections
// are the caller's fault; a canceled turn means a newer turn for the
// same conversation superseded this one.
func (s *Server) turnError(w http.ResponseWriter, conversationID string, err error) {
	switch {
	case errors.Is(err, domain.ErrInputTooLarge), errors.Is(err, domain.ErrInvalidUTF8):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrInjectionDetected):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, context.Canceled):
		http.Error(w, "turn superseded by a newer turn", http.StatusConflict)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "turn timed out", http.StatusGatewayTimeout)
	default:
		http.Error(w, "turn failed", http.StatusInternalServerError)
		s.logger.Error("turn failed", "conversation_id", conversationID, "err", err)
	}
}

// ListSessions handles the GET /sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.Sessions(r.Context())
	if err != nil {
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		s.logger.Error("list sessions failed", "err", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, SessionList{Sessions: ids}, s.logger)
}

// GetSession handles the GET /sessions/{id} request. The body is the
// stored conversation state in its persisted shape.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.engine.Session(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		s.logger.Error("get session failed", "conversation_id", id, "err", err)
		return
	}
	writeJSON(w, http.StatusOK, state, s.logger)
}

// DeleteSession handles the DELETE /sessions/{id} request.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete session", http.StatusInternalServerError)
		s.logger.Error("delete session failed", "conversation_id", id, "err", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "sentinel-http",
		"version": strings.TrimSpace(sentinel.Version),
	}, s.logger)
}

func turnResponseFrom(state domain.State) TurnResponse {
	resp := TurnResponse{
		ConversationID: state.ConversationID,
		Intent:         string(state.Intent),
		Response:       state.Response,
		Action:         state.FinalAction,
		NeedsUserInput: state.NeedsUserInput,
	}
	if state.HaltReason != domain.HaltNone {
		resp.HaltReason = string(state.HaltReason)
		resp.Error = state.Error
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}
