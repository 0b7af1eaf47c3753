package ports

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/mazzlabs/sentinel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a
// SessionStore implementation adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	conversationID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("GetOrCreate and Get", func(t *testing.T) {
		state, err := store.GetOrCreate(ctx, conversationID)
		require.NoError(t, err, "GetOrCreate should not return error")
		assert.Equal(t, conversationID, state.ConversationID)
		assert.Equal(t, domain.DefaultMaxIterations, state.MaxIterations)
		assert.Empty(t, state.History, "a fresh session starts with no history")

		loaded, err := store.Get(ctx, conversationID)
		require.NoError(t, err)
		assert.Equal(t, conversationID, loaded.ConversationID)
	})

	t.Run("Update Archives Turn", func(t *testing.T) {
		state, err := store.GetOrCreate(ctx, conversationID)
		require.NoError(t, err)

		turn := domain.NewTurn(state, "turn the lights off", "")
		turn = turn.With(domain.WithResponse("Lights are off."), domain.WithComplete())
		require.NoError(t, store.Update(ctx, turn))

		loaded, err := store.Get(ctx, conversationID)
		require.NoError(t, err)
		require.Len(t, loaded.History, 2)
		assert.Equal(t, domain.RoleUser, loaded.History[0].Role)
		assert.Equal(t, "turn the lights off", loaded.History[0].Content)
		assert.Equal(t, domain.RoleAssistant, loaded.History[1].Role)
		assert.Equal(t, "Lights are off.", loaded.History[1].Content)
	})

	t.Run("GetOrCreate Returns Existing", func(t *testing.T) {
		state, err := store.GetOrCreate(ctx, conversationID)
		require.NoError(t, err)
		assert.NotEmpty(t, state.History, "the archived turn must survive a reload")
	})

	t.Run("Update Truncates History", func(t *testing.T) {
		id := conversationID + "-bounded"
		state, err := store.GetOrCreate(ctx, id)
		require.NoError(t, err)

		for i := 0; i < domain.MaxHistoryPerSession; i++ {
			turn := domain.NewTurn(state, fmt.Sprintf("query %d", i), "")
			turn = turn.With(domain.WithResponse(fmt.Sprintf("answer %d", i)), domain.WithComplete())
			require.NoError(t, store.Update(ctx, turn))
			state, err = store.Get(ctx, id)
			require.NoError(t, err)
		}

		assert.Len(t, state.History, domain.MaxHistoryPerSession)
		last := state.History[len(state.History)-1]
		assert.Equal(t, fmt.Sprintf("answer %d", domain.MaxHistoryPerSession-1), last.Content,
			"truncation must keep the newest entries")
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+conversationID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		id := conversationID + "-doomed"
		_, err := store.GetOrCreate(ctx, id)
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, id), "Delete should not return error")

		_, err = store.Get(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Get after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, id), "deleting an unknown id is not an error")
	})

	t.Run("List", func(t *testing.T) {
		id1 := conversationID + "-a"
		id2 := conversationID + "-b"
		_, err := store.GetOrCreate(ctx, id1)
		require.NoError(t, err)
		_, err = store.GetOrCreate(ctx, id2)
		require.NoError(t, err)

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
		assert.True(t, slices.IsSorted(ids), "List must return ids in lexical order")
	})
}
