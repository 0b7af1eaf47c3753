package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

// fakeEngine for testing. Unset funcs fall back to benign defaults.
type fakeEngine struct {
	runTurn       func(ctx context.Context, id, query, screen string) (domain.State, error)
	sessions      func(ctx context.Context) ([]string, error)
	session       func(ctx context.Context, id string) (domain.State, error)
	deleteSession func(ctx context.Context, id string) error
}

func (f *fakeEngine) RunTurn(ctx context.Context, id, query, screen string) (domain.State, error) {
	if f.runTurn != nil {
		return f.runTurn(ctx, id, query, screen)
	}
	return domain.State{ConversationID: id}, nil
}

func (f *fakeEngine) Sessions(ctx context.Context) ([]string, error) {
	if f.sessions != nil {
		return f.sessions(ctx)
	}
	return nil, nil
}

func (f *fakeEngine) Session(ctx context.Context, id string) (domain.State, error) {
	if f.session != nil {
		return f.session(ctx, id)
	}
	return domain.State{}, domain.ErrSessionNotFound
}

func (f *fakeEngine) DeleteSession(ctx context.Context, id string) error {
	if f.deleteSession != nil {
		return f.deleteSession(ctx, id)
	}
	return domain.ErrSessionNotFound
}

func postTurn(t *testing.T, handler http.Handler, body TurnRequest) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", "/turns", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRunTurn(t *testing.T) {
	eng := &fakeEngine{
		runTurn: func(ctx context.Context, id, query, screen string) (domain.State, error) {
			if query != "set an alarm for 7am" {
				t.Errorf("unexpected query %q", query)
			}
			state := domain.NewState(id).With(
				domain.WithIntent(domain.IntentDeviceAction, 0.9),
				domain.WithFinalAction(&domain.Action{Kind: domain.ActionClick, Target: "Alarm"}),
				domain.WithResponse("Opening the alarm."),
			)
			return state, nil
		},
	}
	handler := NewHandler(eng)

	w := postTurn(t, handler, TurnRequest{
		ConversationID: "conv-1",
		Query:          "set an alarm for 7am",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp TurnResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ConversationID != "conv-1" {
		t.Errorf("expected conversation id conv-1, got %q", resp.ConversationID)
	}
	if resp.Intent != "device_action" {
		t.Errorf("expected device_action intent, got %q", resp.Intent)
	}
	if resp.Action == nil || resp.Action.Kind != domain.ActionClick {
		t.Errorf("expected CLICK action, got %+v", resp.Action)
	}
	if resp.HaltReason != "" {
		t.Errorf("expected no halt reason, got %q", resp.HaltReason)
	}
}

func TestRunTurn_GeneratesConversationID(t *testing.T) {
	var seen string
	eng := &fakeEngine{
		runTurn: func(ctx context.Context, id, query, screen string) (domain.State, error) {
			seen = id
			return domain.NewState(id), nil
		},
	}
	handler := NewHandler(eng)

	w := postTurn(t, handler, TurnRequest{Query: "hi"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if seen == "" {
		t.Fatal("expected a generated conversation id")
	}
	var resp TurnResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ConversationID != seen {
		t.Errorf("response id %q does not match engine id %q", resp.ConversationID, seen)
	}
}

func TestRunTurn_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"oversize input", fmt.Errorf("query rejected: %w", domain.ErrInputTooLarge), http.StatusBadRequest},
		{"invalid utf8", fmt.Errorf("query rejected: %w", domain.ErrInvalidUTF8), http.StatusBadRequest},
		{"injection", fmt.Errorf("query rejected: %w", domain.ErrInjectionDetected), http.StatusUnprocessableEntity},
		{"superseded", context.Canceled, http.StatusConflict},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"backend fault", fmt.Errorf("failed to load session: boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{
				runTurn: func(ctx context.Context, id, query, screen string) (domain.State, error) {
					return domain.State{}, tt.err
				},
			}
			w := postTurn(t, NewHandler(eng), TurnRequest{ConversationID: "c", Query: "q"})
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRunTurn_InvalidBody(t *testing.T) {
	handler := NewHandler(&fakeEngine{})
	req := httptest.NewRequest("POST", "/turns", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	eng := &fakeEngine{
		sessions: func(ctx context.Context) ([]string, error) {
			return []string{"a", "b"}, nil
		},
	}
	handler := NewHandler(eng)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/sessions", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp SessionList
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sessions) != 2 || resp.Sessions[0] != "a" {
		t.Errorf("unexpected sessions %v", resp.Sessions)
	}
}

func TestListSessions_EmptyIsArray(t *testing.T) {
	handler := NewHandler(&fakeEngine{})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/sessions", nil))

	if !strings.Contains(w.Body.String(), `"sessions":[]`) {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestGetSession(t *testing.T) {
	eng := &fakeEngine{
		session: func(ctx context.Context, id string) (domain.State, error) {
			if id != "conv-1" {
				return domain.State{}, domain.ErrSessionNotFound
			}
			return domain.NewState(id), nil
		},
	}
	handler := NewHandler(eng)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/sessions/conv-1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"conversation_id":"conv-1"`) {
		t.Errorf("expected state body, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/sessions/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	deleted := ""
	eng := &fakeEngine{
		deleteSession: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	handler := NewHandler(eng)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("DELETE", "/sessions/conv-1", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if deleted != "conv-1" {
		t.Errorf("expected delete of conv-1, got %q", deleted)
	}
}

func TestDeleteSession_NotFound(t *testing.T) {
	handler := NewHandler(&fakeEngine{})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("DELETE", "/sessions/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetHealth(t *testing.T) {
	handler := NewHandler(&fakeEngine{})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health body %s", w.Body.String())
	}
}

func TestGetInfo(t *testing.T) {
	handler := NewHandler(&fakeEngine{})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/info", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"version"`) {
		t.Errorf("expected version in info body, got %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := NewHandler(&fakeEngine{})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Error("expected exposition body")
	}
}

func TestSubscribeEvents_ReceivesTurnEvents(t *testing.T) {
	streams := NewStreamManager()
	handler := NewHandler(&fakeEngine{}, WithStreams(streams))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/events?conversation_id=conv-1", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond) // wait for the subscription to register

	hooks := streams.Hooks()
	hooks.OnNodeEnter(context.Background(), &domain.NodeEvent{
		Timestamp:      time.Now(),
		Type:           domain.EventNodeEnter,
		ConversationID: "conv-1",
		Node:           "classify",
		Iteration:      1,
	})
	hooks.OnNodeEnter(context.Background(), &domain.NodeEvent{
		Timestamp:      time.Now(),
		Type:           domain.EventNodeEnter,
		ConversationID: "other",
		Node:           "classify",
	})

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: ping") {
		t.Error("expected initial ping")
	}
	if !strings.Contains(body, `"node":"classify"`) {
		t.Errorf("expected node event in stream, got %s", body)
	}
	if strings.Contains(body, `"conversation_id":"other"`) {
		t.Error("expected events for other conversations to be filtered out")
	}
}

func TestSubscribeEvents_TypeFilter(t *testing.T) {
	streams := NewStreamManager()
	handler := NewHandler(&fakeEngine{}, WithStreams(streams))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/events?types=halt", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)

	hooks := streams.Hooks()
	hooks.OnNodeEnter(context.Background(), &domain.NodeEvent{
		Timestamp: time.Now(), Type: domain.EventNodeEnter,
		ConversationID: "conv-1", Node: "classify",
	})
	hooks.OnHalt(context.Background(), &domain.HaltEvent{
		Timestamp: time.Now(), ConversationID: "conv-1",
		Node: "act", Reason: domain.HaltNodeFault, Error: "backend down",
	})

	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, `"type":"node_enter"`) {
		t.Error("expected node events to be filtered out")
	}
	if !strings.Contains(body, `"type":"halt"`) {
		t.Errorf("expected halt event in stream, got %s", body)
	}
}

func TestStreamManager_DropsWhenSlow(t *testing.T) {
	sm := NewStreamManager()
	ch, cancelSub := sm.Subscribe("", nil)
	defer cancelSub()

	// Fill past the buffer; Broadcast must not block.
	for i := 0; i < 32; i++ {
		sm.Broadcast(TurnEvent{Type: "node_enter", ConversationID: "c"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Errorf("expected between 1 and 16 buffered events, got %d", received)
	}
}
