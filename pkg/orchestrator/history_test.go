package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLHistoryRejectsNilDB(t *testing.T) {
	_, err := NewSQLHistory(nil, "sqlite")
	require.Error(t, err)
}

func TestNewSQLHistoryRejectsUnknownDialect(t *testing.T) {
	db := openTestSQLite(t)
	_, err := NewSQLHistory(db, "mssql")
	require.Error(t, err)
}

func TestHistoryAppendAndListByProject(t *testing.T) {
	db := openTestSQLite(t)
	history, err := NewSQLHistory(db, "sqlite")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, history.Append(ctx, StateHistoryEntry{
		ProjectID: "proj-1", WorkspaceID: "ws-1", WorkflowID: "wf-1",
		PreviousState: StateIdle, NewState: StatePlanning, TriggeredBy: "user:alice",
	}))
	require.NoError(t, history.Append(ctx, StateHistoryEntry{
		ProjectID: "proj-1", WorkspaceID: "ws-1", WorkflowID: "wf-1",
		PreviousState: StatePlanning, NewState: StateImplementing, TriggeredBy: "agent:planner",
	}))
	require.NoError(t, history.Append(ctx, StateHistoryEntry{
		ProjectID: "proj-2", WorkspaceID: "ws-2", WorkflowID: "wf-2",
		PreviousState: StateIdle, NewState: StatePlanning, TriggeredBy: "user:bob",
	}))

	entries, err := history.ListByProject(ctx, "proj-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Ordered most-recent first.
	assert.Equal(t, StateImplementing, entries[0].NewState)
	assert.Equal(t, StatePlanning, entries[1].NewState)
}

func TestHistoryListByProjectRespectsLimitAndOffset(t *testing.T) {
	db := openTestSQLite(t)
	history, err := NewSQLHistory(db, "sqlite")
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, history.Append(ctx, StateHistoryEntry{
			ProjectID: "proj-1", PreviousState: StateIdle, NewState: StatePlanning,
		}))
	}

	page1, err := history.ListByProject(ctx, "proj-1", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := history.ListByProject(ctx, "proj-1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)

	page3, err := history.ListByProject(ctx, "proj-1", 2, 4)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestHistoryAppendGeneratesIDWhenMissing(t *testing.T) {
	db := openTestSQLite(t)
	history, err := NewSQLHistory(db, "sqlite")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, history.Append(ctx, StateHistoryEntry{
		ProjectID: "proj-1", PreviousState: StateIdle, NewState: StatePlanning,
	}))

	entries, err := history.ListByProject(ctx, "proj-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
}

func TestHistoryPreservesMetadata(t *testing.T) {
	db := openTestSQLite(t)
	history, err := NewSQLHistory(db, "sqlite")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, history.Append(ctx, StateHistoryEntry{
		ProjectID: "proj-1", PreviousState: StateIdle, NewState: StatePlanning,
		Metadata: map[string]any{"story_id": "story-1"},
	}))

	entries, err := history.ListByProject(ctx, "proj-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "story-1", entries[0].Metadata["story_id"])
}
