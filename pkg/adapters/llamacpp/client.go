package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mazzlabs/sentinel/pkg/ports"
)

const (
	defaultBaseURL = "http://127.0.0.1:8080"
	defaultTimeout = 120 * time.Second

	// defaultMaxTokens guards against a zero n_predict, which would
	// make the runtime return nothing.
	defaultMaxTokens = 256
)

// Config describes how to reach a llama.cpp server.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements ports.InferenceClient against the llama.cpp HTTP
// server's /completion endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a llama.cpp client from the config, filling in
// defaults for a local runtime.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Complete posts the prompt and returns the completion text.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/completion"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build llama.cpp request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llama.cpp request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("llama.cpp returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode llama.cpp response: %w", err)
	}

	content := strings.TrimSpace(decoded.Content)
	if content == "" {
		return "", errors.New("llama.cpp returned an empty completion")
	}
	return content, nil
}

func buildPayload(req ports.CompletionRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := map[string]any{
		"prompt":       req.Prompt,
		"n_predict":    maxTokens,
		"temperature":  req.Temperature,
		"top_p":        req.TopP,
		"stream":       false,
		"cache_prompt": true,
	}
	if req.Grammar != "" {
		body["grammar"] = req.Grammar
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize llama.cpp request: %w", err)
	}
	return encoded, nil
}
