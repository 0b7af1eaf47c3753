package session

import (
	"context"
	"fmt"
	"regexp"

	"github.com/mazzlabs/sentinel/pkg/domain"
	"github.com/mazzlabs/sentinel/pkg/ports"
)

const mask = "***"

// Redactor wraps a SessionStore and masks sensitive values before they
// reach storage. Entity and capability-input entries whose keys match
// any pattern are replaced with "***"; the in-memory state the engine
// works with stays intact.
type Redactor struct {
	next     ports.SessionStore
	patterns []*regexp.Regexp
}

// NewRedactor compiles the key patterns and wraps next.
func NewRedactor(next ports.SessionStore, patterns []string) (*Redactor, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Redactor{next: next, patterns: compiled}, nil
}

// Update masks a clone of the state and delegates. Capability input is
// deep-copied first so masking nested maps cannot leak into the state
// the engine still holds.
func (r *Redactor) Update(ctx context.Context, state domain.State) error {
	cloned := state.Clone()
	cloned.CapabilityInput = deepCopyMap(state.CapabilityInput)
	for key := range cloned.Entities {
		if r.matches(key) {
			cloned.Entities[key] = mask
		}
	}
	maskMap(cloned.CapabilityInput, r.patterns)
	return r.next.Update(ctx, cloned)
}

// GetOrCreate delegates to the wrapped store.
func (r *Redactor) GetOrCreate(ctx context.Context, conversationID string) (domain.State, error) {
	return r.next.GetOrCreate(ctx, conversationID)
}

// Get delegates to the wrapped store.
func (r *Redactor) Get(ctx context.Context, conversationID string) (domain.State, error) {
	return r.next.Get(ctx, conversationID)
}

// List delegates to the wrapped store.
func (r *Redactor) List(ctx context.Context) ([]string, error) {
	return r.next.List(ctx)
}

// Delete delegates to the wrapped store.
func (r *Redactor) Delete(ctx context.Context, conversationID string) error {
	return r.next.Delete(ctx, conversationID)
}

func (r *Redactor) matches(key string) bool {
	for _, p := range r.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = mask
				break
			}
		}
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
