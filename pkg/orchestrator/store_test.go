package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(projectID string) *PipelineContext {
	now := time.Now()
	return &PipelineContext{
		ProjectID:      projectID,
		WorkspaceID:    "ws-1",
		CurrentState:   StateIdle,
		StateEnteredAt: now,
		MaxRetries:     3,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestStoreCreateIfAbsent(t *testing.T) {
	store := NewStore(StoreConfig{})
	ctx := context.Background()

	require.NoError(t, store.CreateIfAbsent(ctx, newTestContext("proj-1")))

	err := store.CreateIfAbsent(ctx, newTestContext("proj-1"))
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestStoreGetMissing(t *testing.T) {
	store := NewStore(StoreConfig{})
	pctx, err := store.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, pctx)
}

func TestStoreGetRoundTrip(t *testing.T) {
	store := NewStore(StoreConfig{})
	ctx := context.Background()
	want := newTestContext("proj-2")
	require.NoError(t, store.CreateIfAbsent(ctx, want))

	got, err := store.Get(ctx, "proj-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ProjectID, got.ProjectID)
	assert.Equal(t, want.WorkspaceID, got.WorkspaceID)
	assert.Equal(t, want.CurrentState, got.CurrentState)
}

func TestStoreUpdateMissing(t *testing.T) {
	store := NewStore(StoreConfig{})
	_, err := store.Update(context.Background(), "nonexistent", func(p *PipelineContext) error {
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestStoreUpdateAppliesMutation(t *testing.T) {
	store := NewStore(StoreConfig{})
	ctx := context.Background()
	require.NoError(t, store.CreateIfAbsent(ctx, newTestContext("proj-3")))

	updated, err := store.Update(ctx, "proj-3", func(p *PipelineContext) error {
		p.CurrentState = StatePlanning
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatePlanning, updated.CurrentState)

	reread, err := store.Get(ctx, "proj-3")
	require.NoError(t, err)
	assert.Equal(t, StatePlanning, reread.CurrentState)
}

func TestStoreUpdatePropagatesMutatorError(t *testing.T) {
	store := NewStore(StoreConfig{})
	ctx := context.Background()
	require.NoError(t, store.CreateIfAbsent(ctx, newTestContext("proj-4")))

	wantErr := ErrBadRequest("bad mutation")
	_, err := store.Update(ctx, "proj-4", func(p *PipelineContext) error {
		return wantErr
	})
	assert.Equal(t, wantErr, err)
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := NewStore(StoreConfig{})
	ctx := context.Background()
	require.NoError(t, store.CreateIfAbsent(ctx, newTestContext("proj-5")))

	require.NoError(t, store.Delete(ctx, "proj-5"))
	require.NoError(t, store.Delete(ctx, "proj-5"))

	pctx, err := store.Get(ctx, "proj-5")
	require.NoError(t, err)
	assert.Nil(t, pctx)
}

func TestStoreScanProjectIDs(t *testing.T) {
	store := NewStore(StoreConfig{})
	ctx := context.Background()
	require.NoError(t, store.CreateIfAbsent(ctx, newTestContext("proj-a")))
	require.NoError(t, store.CreateIfAbsent(ctx, newTestContext("proj-b")))

	ids, err := store.ScanProjectIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"proj-a", "proj-b"}, ids)
}
