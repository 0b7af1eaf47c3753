package ports

import (
	"context"

	"github.com/mazzlabs/sentinel/pkg/domain"
)

// SessionStore defines the interface for persisting conversation state
// between turns. Implementations return snapshots: mutating a returned
// State never changes what the store holds.
type SessionStore interface {
	// GetOrCreate returns the stored state for the conversation,
	// inserting a fresh one when the id is unknown.
	GetOrCreate(ctx context.Context, conversationID string) (domain.State, error)

	// Update replaces the conversation's entry with the finished turn,
	// folding the turn's user query and assistant response into the
	// conversation history before persisting.
	Update(ctx context.Context, state domain.State) error

	// Get retrieves the state for a conversation id.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Get(ctx context.Context, conversationID string) (domain.State, error)

	// List returns the known conversation ids in lexical order.
	List(ctx context.Context) ([]string, error)

	// Delete removes the session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, conversationID string) error
}
