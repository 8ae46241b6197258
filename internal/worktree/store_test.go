package worktree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/db"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	conn, err := db.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store, err := NewSQLStore(conn)
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wt := &Worktree{
		ID:             "wt-1",
		Name:           "feature-auth",
		OwnerProjectID: "proj-1",
		RepoPath:       "/repo",
		Path:           "/worktrees/feature-auth",
		BranchName:     "feature-auth",
		BaseBranch:     "main",
		RuntimeType:    RuntimeProcess,
		Status:         StatusCreating,
	}
	require.NoError(t, store.CreateWorktree(ctx, wt))

	got, err := store.GetWorktreeByName(ctx, "proj-1", "feature-auth")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "wt-1", got.ID)
	assert.Empty(t, got.MergeConflicts)

	got.Status = StatusRunning
	got.DevchainProjectID = "inner-proj"
	got.MergeConflicts = ConflictList{
		{File: "main.go", Type: "content"},
		{File: "go.mod", Type: "content"},
	}
	require.NoError(t, store.UpdateWorktree(ctx, got))

	got, err = store.GetWorktree(ctx, "wt-1")
	require.NoError(t, err)
	require.Len(t, got.MergeConflicts, 2)
	assert.Equal(t, apperrors.FileConflict{File: "main.go", Type: "content"}, got.MergeConflicts[0])
	assert.Equal(t, "inner-proj", got.DevchainProjectID)

	count, err := store.CountLive(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStoreDeletedRowsLeaveListings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wt := &Worktree{
		ID: "wt-1", Name: "gone", OwnerProjectID: "proj-1",
		RepoPath: "/repo", Path: "/p", BranchName: "gone", BaseBranch: "main",
		RuntimeType: RuntimeProcess, Status: StatusStopped,
	}
	require.NoError(t, store.CreateWorktree(ctx, wt))

	wt.Status = StatusDeleted
	require.NoError(t, store.UpdateWorktree(ctx, wt))

	list, err := store.ListWorktrees(ctx, "proj-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	byName, err := store.GetWorktreeByName(ctx, "proj-1", "gone")
	require.NoError(t, err)
	assert.Nil(t, byName)

	// Direct lookup by id still sees the historical row.
	byID, err := store.GetWorktree(ctx, "wt-1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, StatusDeleted, byID.Status)
}
