package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mazzlabs/sentinel/pkg/ports"
)

func TestCompleteSuccess(t *testing.T) {
	var captured map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": ` {"action":"NONE","reasoning":"greeting"} `,
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second})
	client.httpClient = srv.Client()

	out, err := client.Complete(context.Background(), ports.CompletionRequest{
		Prompt:      "User: hi",
		Grammar:     "root ::= object",
		Temperature: 0.3,
		TopP:        0.9,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(out, `{"action"`) {
		t.Fatalf("expected trimmed completion, got %q", out)
	}
	if captured["prompt"] != "User: hi" {
		t.Fatalf("prompt not forwarded: %+v", captured)
	}
	if captured["grammar"] != "root ::= object" {
		t.Fatalf("grammar not forwarded: %+v", captured)
	}
	if captured["n_predict"] != float64(256) {
		t.Fatalf("n_predict not forwarded: %+v", captured)
	}
	if captured["stream"] != false {
		t.Fatalf("streaming must be disabled: %+v", captured)
	}
}

func TestCompleteOmitsEmptyGrammar(t *testing.T) {
	var captured map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{"content": "plain text"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	client.httpClient = srv.Client()

	if _, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "p"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := captured["grammar"]; ok {
		t.Fatalf("grammar should be omitted when empty: %+v", captured)
	}
	if captured["n_predict"] != float64(defaultMaxTokens) {
		t.Fatalf("zero max tokens must fall back to the default: %+v", captured)
	}
}

func TestCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	client.httpClient = srv.Client()

	_, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "p"})
	if err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("error should carry the body excerpt: %v", err)
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"content": "   "})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	client.httpClient = srv.Client()

	if _, err := client.Complete(context.Background(), ports.CompletionRequest{Prompt: "p"}); err == nil {
		t.Fatalf("expected error for empty completion")
	}
}
