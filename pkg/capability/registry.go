package capability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

// Failure codes reported by the registry itself.
const (
	CodeUnknownCapability = "unknown_capability"
	CodeUnknownOperation  = "unknown_operation"
	CodePanic             = "panic"
)

// OperationFunc implements one operation of a capability. It receives
// the raw params from the model; Decode maps them onto a typed struct.
type OperationFunc func(ctx context.Context, params map[string]any) domain.CapabilityResult

// Registry implements ports.Capabilities with in-process handlers.
// Handlers are keyed by (capability, operation). The registry keeps the
// ports.Capabilities guarantee that no panic crosses the boundary: a
// panicking handler is reported as a CapabilityFailure.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]map[string]OperationFunc
	logger   *slog.Logger
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithLogger sets the structured logger. The default discards.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handlers: make(map[string]map[string]OperationFunc),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an operation handler.
// If the (capability, operation) pair exists, it is overwritten.
func (r *Registry) Register(capability, operation string, fn OperationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops, ok := r.handlers[capability]
	if !ok {
		ops = make(map[string]OperationFunc)
		r.handlers[capability] = ops
	}
	ops[operation] = fn
}

// Capabilities returns the registered capability names.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Invoke executes the requested operation and returns its outcome.
func (r *Registry) Invoke(ctx context.Context, req domain.CapabilityRequest) (result domain.CapabilityResult) {
	r.mu.RLock()
	ops, ok := r.handlers[req.Capability]
	if !ok {
		r.mu.RUnlock()
		return domain.CapabilityFailure{
			Code:    CodeUnknownCapability,
			Message: fmt.Sprintf("capability not found: %s", req.Capability),
		}
	}
	fn, ok := ops[req.Operation]
	r.mu.RUnlock()
	if !ok {
		return domain.CapabilityFailure{
			Code:    CodeUnknownOperation,
			Message: fmt.Sprintf("capability %s has no operation %s", req.Capability, req.Operation),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("capability handler panicked",
				"capability", req.Capability,
				"operation", req.Operation,
				"panic", rec,
			)
			result = domain.CapabilityFailure{
				Code:    CodePanic,
				Message: fmt.Sprintf("capability %s.%s panicked: %v", req.Capability, req.Operation, rec),
			}
		}
	}()

	return fn(ctx, req.Params)
}

// Decode maps raw params onto a typed struct using mapstructure tags.
// Handlers call it at their top and report a CapabilityFailure when the
// params do not fit.
func Decode(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(params)
}
