package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineForwardPath(t *testing.T) {
	j := New("uploads", "sales.csv")
	assert.Equal(t, StateReceived, j.State)
	assert.Nil(t, j.FinishedAt)

	for _, next := range []State{
		StateClassifying, StateStructuring, StateSchemaReady, StateLoading, StateCompleted,
	} {
		require.NoError(t, j.Transition(next))
	}
	assert.True(t, j.State.Terminal())
	require.NotNil(t, j.FinishedAt)
}

func TestStateMachineExtractionBranch(t *testing.T) {
	j := New("uploads", "invoice.pdf")
	require.NoError(t, j.Transition(StateClassifying))
	require.NoError(t, j.Transition(StateExtracting))
	require.NoError(t, j.Transition(StateSchemaReady))
	require.NoError(t, j.Transition(StateLoading))
	require.NoError(t, j.Transition(StateCompletedWithWarnings))
	assert.True(t, j.State.Terminal())
}

func TestNoBackwardTransitions(t *testing.T) {
	j := New("uploads", "sales.csv")
	require.NoError(t, j.Transition(StateClassifying))
	require.NoError(t, j.Transition(StateStructuring))

	assert.Error(t, j.Transition(StateClassifying))
	assert.Error(t, j.Transition(StateReceived))
	assert.Error(t, j.Transition(StateExtracting), "cannot cross branches")
}

func TestFailedReachableFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []State{
		StateReceived, StateClassifying, StateStructuring,
		StateExtracting, StateSchemaReady, StateLoading,
	} {
		assert.True(t, CanTransition(from, StateFailed), "from %s", from)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	for _, terminal := range []State{StateCompleted, StateCompletedWithWarnings, StateFailed} {
		for _, to := range []State{
			StateReceived, StateClassifying, StateLoading, StateFailed, StateCompleted,
		} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	j := New("uploads", "sales.csv")
	j.ContentHash = "abc123"
	require.NoError(t, store.Create(ctx, j))

	// Mutating the original must not leak into the store.
	j.Warn("local-only")
	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Warnings)

	got.State = StateCompleted
	require.NoError(t, store.Update(ctx, got))

	dup, err := store.FindCompletedByHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, j.ID, dup.ID)

	_, err = store.FindCompletedByHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindCompletedByHash(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound, "empty hash must never match")

	ok, err := store.HasTerminalForKey(ctx, "uploads", "sales.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasTerminalForKey(ctx, "uploads", "other.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreRecent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, New("uploads", "f.csv")))
	}

	recent, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}
