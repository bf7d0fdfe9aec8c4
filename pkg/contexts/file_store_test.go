package contexts_test

import (
	"context"
	"testing"

	"github.com/dukex/callchain/pkg/contexts"
	"github.com/dukex/callchain/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoadListDelete(t *testing.T) {
	ctx := context.Background()
	store := contexts.NewFileStore(t.TempDir())

	execCtx := models.NewExecutionContext("ctx-1", "checkout", "project-1", chainInitiator())
	execCtx.Set("orderId", "o-1")
	execCtx.SetLifecycle(models.Lifecycle{State: models.ContextStatePaused})

	require.NoError(t, store.Save(ctx, execCtx))

	loaded, err := store.Load(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, models.ContextStatePaused, loaded.State())
	assert.Equal(t, "chain-1", loaded.Initiator.ID)

	orderID, _ := loaded.Get("orderId")
	assert.Equal(t, "o-1", orderID)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, store.Delete(ctx, "ctx-1"))
	require.NoError(t, store.Delete(ctx, "ctx-1"))

	_, err = store.Load(ctx, "ctx-1")
	require.ErrorIs(t, err, contexts.ErrContextNotFound)
}

func TestFileStore_ListEmptyRoot(t *testing.T) {
	all, err := contexts.NewFileStore(t.TempDir()).List(context.Background())

	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileStore_RejectsUnsafeIDs(t *testing.T) {
	store := contexts.NewFileStore(t.TempDir())

	for _, id := range []string{"", "../etc/passwd", "a/b", `a\b`} {
		_, err := store.Load(context.Background(), id)
		require.ErrorIs(t, err, contexts.ErrInvalidContextID, id)
	}
}
