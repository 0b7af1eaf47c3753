package sentinel

import (
	"log/slog"

	"github.com/mazzlabs/sentinel/pkg/domain"
	"github.com/mazzlabs/sentinel/pkg/graph"
	"github.com/mazzlabs/sentinel/pkg/ports"
)

// Option configures the Engine.
type Option func(*Engine)

// WithStore selects the session store. The default is the bounded
// file store at its default path.
func WithStore(store ports.SessionStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithInference selects the completion backend. The default is a
// llama.cpp-style server on localhost.
func WithInference(client ports.InferenceClient) Option {
	return func(e *Engine) { e.inference = client }
}

// WithCapabilities wires the device capability host. Without one,
// capability turns fold failures instead of invoking anything.
func WithCapabilities(caps ports.Capabilities) Option {
	return func(e *Engine) { e.caps = caps }
}

// WithGraph replaces the default assistant graph with a custom
// compiled one. The engine then leaves hooks and logging on the graph
// to its builder.
func WithGraph(g *graph.Graph) Option {
	return func(e *Engine) { e.graph = g }
}

// WithLifecycleHooks registers observability hooks on the default
// graph.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics wires turn and node metrics, typically a
// *observability.Metrics.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDistributedLocker extends per-conversation serialization across
// replicas that share a session backend.
func WithDistributedLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) { e.locker = locker }
}
