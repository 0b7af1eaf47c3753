package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mazzlabs/sentinel/internal/logging"
	"github.com/mazzlabs/sentinel/pkg/domain"
)

// TurnEvent is the wire shape of one lifecycle event on the SSE feed.
type TurnEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Node           string    `json:"node,omitempty"`
	Iteration      int       `json:"iteration,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Error          string    `json:"error,omitempty"`
}

type subscriber struct {
	conversation string              // "" matches every conversation
	types        map[string]struct{} // nil matches every event type
	ch           chan string
}

func (sub *subscriber) matches(e TurnEvent) bool {
	if sub.conversation != "" && sub.conversation != e.ConversationID {
		return false
	}
	if sub.types != nil {
		if _, ok := sub.types[e.Type]; !ok {
			return false
		}
	}
	return true
}

// StreamManager fans turn lifecycle events out to SSE clients. Build
// one, pass its Hooks to the engine, and attach it to the handler with
// WithStreams.
type StreamManager struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

// StreamOption configures a StreamManager.
type StreamOption func(*StreamManager)

// WithStreamLogger sets the stream logger. The default discards.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(sm *StreamManager) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

func NewStreamManager(opts ...StreamOption) *StreamManager {
	sm := &StreamManager{
		subs:   make(map[*subscriber]struct{}),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// Hooks returns lifecycle hooks that publish onto the stream. Combine
// them with other hooks via observability.JoinHooks when the engine
// also records metrics.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	node := func(_ context.Context, e *domain.NodeEvent) {
		sm.Broadcast(TurnEvent{
			Timestamp:      e.Timestamp,
			Type:           string(e.Type),
			ConversationID: e.ConversationID,
			Node:           e.Node,
			Iteration:      e.Iteration,
		})
	}
	return domain.LifecycleHooks{
		OnNodeEnter: node,
		OnNodeLeave: node,
		OnHalt: func(_ context.Context, e *domain.HaltEvent) {
			sm.Broadcast(TurnEvent{
				Timestamp:      e.Timestamp,
				Type:           string(domain.EventHalt),
				ConversationID: e.ConversationID,
				Node:           e.Node,
				Reason:         string(e.Reason),
				Error:          e.Error,
			})
		},
	}
}

// Subscribe registers a client. conversation narrows the feed to one
// conversation; types narrows it to the named event types. The returned
// cancel must be called when the client goes away.
func (sm *StreamManager) Subscribe(conversation string, types []string) (<-chan string, func()) {
	sub := &subscriber{
		conversation: conversation,
		ch:           make(chan string, 16),
	}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			if t = strings.TrimSpace(t); t != "" {
				sub.types[t] = struct{}{}
			}
		}
	}

	sm.mu.Lock()
	sm.subs[sub] = struct{}{}
	sm.mu.Unlock()

	return sub.ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if _, ok := sm.subs[sub]; ok {
			delete(sm.subs, sub)
			close(sub.ch)
		}
	}
}

// Broadcast delivers an event to every matching subscriber. Slow
// clients lose messages rather than stall the turn.
func (sm *StreamManager) Broadcast(e TurnEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		sm.logger.Error("stream: event marshal failed", "err", err)
		return
	}
	msg := string(payload)

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for sub := range sm.subs {
		if !sub.matches(e) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			sm.logger.Warn("sse: client buffer full, dropping event",
				"conversation_id", e.ConversationID, "type", e.Type)
		}
	}
}

// SubscribeEvents handles the GET /events request (SSE). Query params:
// conversation_id narrows to one conversation, types is a
// comma-separated list of node_enter, node_leave, halt.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		s.logger.Error("sse: streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	conversation := r.URL.Query().Get("conversation_id")
	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		types = strings.Split(raw, ",")
	}

	ch, cancel := s.streams.Subscribe(conversation, types)
	defer cancel()

	s.logger.Info("sse: client subscribed", "conversation_id", conversation)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("sse: client disconnected", "conversation_id", conversation)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
