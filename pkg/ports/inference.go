package ports

import "context"

// CompletionRequest carries one prompt to the model runtime.
type CompletionRequest struct {
	Prompt string

	// Grammar optionally constrains decoding to a formal grammar
	// (GBNF). Backends that cannot enforce it may ignore it; the
	// extraction layer copes with free-form output either way.
	Grammar string

	Temperature float64
	TopP        float64
	MaxTokens   int
}

// InferenceClient defines the interface for producing model completions.
// Implementations wrap a local runtime (llama.cpp server) or a test fake.
type InferenceClient interface {
	// Complete returns the raw completion text for the request.
	// It blocks until the runtime answers or ctx is done.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
