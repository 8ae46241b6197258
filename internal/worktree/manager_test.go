package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

// mockStore implements Store for testing.
type mockStore struct {
	worktrees map[string]*Worktree
}

func newMockStore() *mockStore {
	return &mockStore{worktrees: make(map[string]*Worktree)}
}

func (s *mockStore) CreateWorktree(ctx context.Context, wt *Worktree) error {
	cp := *wt
	s.worktrees[wt.ID] = &cp
	return nil
}

func (s *mockStore) GetWorktree(ctx context.Context, id string) (*Worktree, error) {
	wt, ok := s.worktrees[id]
	if !ok {
		return nil, nil
	}
	cp := *wt
	return &cp, nil
}

func (s *mockStore) GetWorktreeByName(ctx context.Context, projectID, name string) (*Worktree, error) {
	for _, wt := range s.worktrees {
		if wt.OwnerProjectID == projectID && wt.Name == name && wt.Status != StatusDeleted {
			cp := *wt
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *mockStore) UpdateWorktree(ctx context.Context, wt *Worktree) error {
	if _, ok := s.worktrees[wt.ID]; !ok {
		return ErrWorktreeNotFound
	}
	cp := *wt
	s.worktrees[wt.ID] = &cp
	return nil
}

func (s *mockStore) ListWorktrees(ctx context.Context, projectID string) ([]*Worktree, error) {
	var result []*Worktree
	for _, wt := range s.worktrees {
		if wt.OwnerProjectID == projectID && wt.Status != StatusDeleted {
			cp := *wt
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *mockStore) CountLive(ctx context.Context, projectID string) (int, error) {
	count := 0
	for _, wt := range s.worktrees {
		if wt.OwnerProjectID == projectID && (wt.Status == StatusCreating || wt.Status == StatusRunning) {
			count++
		}
	}
	return count, nil
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// setupRepo creates a git repository with one commit on main.
func setupRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitIn(t, dir, "init")
	gitIn(t, dir, "config", "user.email", "test@example.com")
	gitIn(t, dir, "config", "user.name", "Test")
	writeFile(t, dir, "README.md", "hello\n")
	gitIn(t, dir, "add", ".")
	gitIn(t, dir, "commit", "-m", "initial")
	gitIn(t, dir, "branch", "-M", "main")
	return dir
}

func gitIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	cfg := Config{BasePath: t.TempDir(), DefaultBranch: "main", MaxPerProject: 10}
	mgr, err := NewManager(context.Background(), cfg, store, catalog, NewProcessSandbox(newTestLogger()), nil, newTestLogger())
	require.NoError(t, err)
	return mgr
}

func TestCreateStopDelete(t *testing.T) {
	requireGit(t)
	repo := setupRepo(t)
	store := newMockStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	wt, err := mgr.Create(ctx, CreateRequest{
		Name:           "feature-auth",
		OwnerProjectID: "proj-1",
		RepoPath:       repo,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, wt.Status)
	assert.Equal(t, "feature-auth", wt.BranchName, "branch derives from name")
	assert.Equal(t, RuntimeProcess, wt.RuntimeType, "no container runtime, forced to process")
	assert.NotEmpty(t, wt.DevchainProjectID)
	assert.DirExists(t, wt.Path)

	// A second worktree with the same name is refused.
	_, err = mgr.Create(ctx, CreateRequest{Name: "feature-auth", OwnerProjectID: "proj-1", RepoPath: repo})
	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)

	stopped, err := mgr.Stop(ctx, wt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stopped.Status)
	assert.Empty(t, stopped.DevchainProjectID, "stopped worktree has no resolved project")

	// Stopped is terminal for normal operation.
	_, err = mgr.Stop(ctx, wt.ID)
	require.Error(t, err)

	require.NoError(t, mgr.Delete(ctx, wt.ID, true))
	assert.NoDirExists(t, wt.Path)

	cmd := exec.Command("git", "rev-parse", "--verify", "refs/heads/feature-auth")
	cmd.Dir = repo
	assert.Error(t, cmd.Run(), "branch cascade-deleted")

	list, err := mgr.List(ctx, "proj-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateValidatesBeforeAnyGitCall(t *testing.T) {
	mgr := newTestManager(t, newMockStore())

	_, err := mgr.Create(context.Background(), CreateRequest{
		Name:           "Bad Name!",
		OwnerProjectID: "proj-1",
		RepoPath:       "/nonexistent",
	})
	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestCreateRejectsNonGitRepo(t *testing.T) {
	mgr := newTestManager(t, newMockStore())

	_, err := mgr.Create(context.Background(), CreateRequest{
		Name:           "feature-x",
		OwnerProjectID: "proj-1",
		RepoPath:       t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrRepoNotGit)
}

func TestCreateRespectsLimit(t *testing.T) {
	requireGit(t)
	repo := setupRepo(t)
	store := newMockStore()
	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	cfg := Config{BasePath: t.TempDir(), DefaultBranch: "main", MaxPerProject: 1}
	mgr, err := NewManager(context.Background(), cfg, store, catalog, NewProcessSandbox(newTestLogger()), nil, newTestLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = mgr.Create(ctx, CreateRequest{Name: "one", OwnerProjectID: "proj-1", RepoPath: repo})
	require.NoError(t, err)

	_, err = mgr.Create(ctx, CreateRequest{Name: "two", OwnerProjectID: "proj-1", RepoPath: repo})
	assert.ErrorIs(t, err, ErrMaxWorktrees)
}

func TestMergePreviewIsIdempotent(t *testing.T) {
	requireGit(t)
	repo := setupRepo(t)
	store := newMockStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	wt, err := mgr.Create(ctx, CreateRequest{Name: "feature-x", OwnerProjectID: "proj-1", RepoPath: repo})
	require.NoError(t, err)

	writeFile(t, wt.Path, "feature.go", "package feature\n")
	gitIn(t, wt.Path, "add", ".")
	gitIn(t, wt.Path, "commit", "-m", "add feature")

	first, err := mgr.PreviewMerge(ctx, wt.ID)
	require.NoError(t, err)
	assert.True(t, first.CanMerge)
	assert.Equal(t, 1, first.CommitsAhead)
	assert.Equal(t, 1, first.FilesChanged)
	assert.Empty(t, first.Conflicts)

	second, err := mgr.PreviewMerge(ctx, wt.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := mgr.Get(ctx, wt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status, "preview never changes lifecycle state")
	assert.Equal(t, 0, got.CommitsAhead, "preview never writes ahead count to the row")
	assert.Equal(t, 0, got.CommitsBehind, "preview never writes behind count to the row")
}

func TestTriggerMergeSuccess(t *testing.T) {
	requireGit(t)
	repo := setupRepo(t)
	store := newMockStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	wt, err := mgr.Create(ctx, CreateRequest{Name: "feature-x", OwnerProjectID: "proj-1", RepoPath: repo})
	require.NoError(t, err)

	writeFile(t, wt.Path, "feature.go", "package feature\n")
	gitIn(t, wt.Path, "add", ".")
	gitIn(t, wt.Path, "commit", "-m", "add feature")

	merged, err := mgr.TriggerMerge(ctx, wt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMerged, merged.Status)
	require.NotNil(t, merged.MergedAt)
	assert.Zero(t, merged.CommitsAhead)
	assert.False(t, mgr.Merging(wt.ID), "merging flag cleared after completion")

	assert.FileExists(t, filepath.Join(repo, "feature.go"))
}

func TestTriggerMergeWithNothingToMerge(t *testing.T) {
	requireGit(t)
	repo := setupRepo(t)
	mgr := newTestManager(t, newMockStore())
	ctx := context.Background()

	wt, err := mgr.Create(ctx, CreateRequest{Name: "feature-x", OwnerProjectID: "proj-1", RepoPath: repo})
	require.NoError(t, err)

	_, err = mgr.TriggerMerge(ctx, wt.ID)
	assert.ErrorIs(t, err, ErrMergeNotAllowed)
}

func TestMergeConflictPersistsUntilCleanPreview(t *testing.T) {
	requireGit(t)
	repo := setupRepo(t)
	store := newMockStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	wt, err := mgr.Create(ctx, CreateRequest{Name: "feature-x", OwnerProjectID: "proj-1", RepoPath: repo})
	require.NoError(t, err)

	// Conflicting edits to the same file on both sides.
	writeFile(t, wt.Path, "README.md", "feature version\n")
	gitIn(t, wt.Path, "add", ".")
	gitIn(t, wt.Path, "commit", "-m", "feature edit")

	writeFile(t, repo, "README.md", "main version\n")
	gitIn(t, repo, "add", ".")
	gitIn(t, repo, "commit", "-m", "main edit")

	_, err = mgr.TriggerMerge(ctx, wt.ID)
	require.Error(t, err)
	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotEmpty(t, conflict.Conflicts)
	assert.Equal(t, "README.md", conflict.Conflicts[0].File)

	// Conflict state is persisted on the row, surviving dialog close.
	got, err := mgr.Get(ctx, wt.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.MergeConflicts)
	assert.Equal(t, StatusRunning, got.Status, "conflicted worktree stays running")

	// Another preview still reports the conflict; state is unchanged.
	preview, err := mgr.PreviewMerge(ctx, wt.ID)
	require.NoError(t, err)
	assert.False(t, preview.CanMerge)
	assert.NotEmpty(t, preview.Conflicts)

	// Resolve by taking main's side in the worktree branch.
	gitIn(t, wt.Path, "merge", "-X", "theirs", "main", "--no-edit")

	preview, err = mgr.PreviewMerge(ctx, wt.ID)
	require.NoError(t, err)
	assert.True(t, preview.CanMerge)
	assert.Empty(t, preview.Conflicts)

	// A clean preview clears the persisted conflict state.
	got, err = mgr.Get(ctx, wt.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MergeConflicts)
}

func TestDeleteRefusedWhileCreating(t *testing.T) {
	store := newMockStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	wt := &Worktree{ID: "wt-1", Name: "stuck", OwnerProjectID: "proj-1", Status: StatusCreating}
	require.NoError(t, store.CreateWorktree(ctx, wt))

	err := mgr.Delete(ctx, "wt-1", false)
	assert.ErrorIs(t, err, ErrWorktreeActive)
}

func TestReconcile(t *testing.T) {
	store := newMockStore()
	mgr := newTestManager(t, store)
	ctx := context.Background()

	stuck := &Worktree{ID: "wt-1", Name: "stuck", OwnerProjectID: "proj-1", Status: StatusCreating}
	gone := &Worktree{ID: "wt-2", Name: "gone", OwnerProjectID: "proj-1", Status: StatusRunning, Path: "/nonexistent/path"}
	require.NoError(t, store.CreateWorktree(ctx, stuck))
	require.NoError(t, store.CreateWorktree(ctx, gone))

	require.NoError(t, mgr.Reconcile(ctx, "proj-1"))

	got, err := store.GetWorktree(ctx, "wt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)

	got, err = store.GetWorktree(ctx, "wt-2")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
}
