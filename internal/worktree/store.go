package worktree

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/sqlite"
)

// ConflictList is a persisted list of merge conflicts, stored as JSON.
type ConflictList []apperrors.FileConflict

// Value implements driver.Valuer.
func (c ConflictList) Value() (driver.Value, error) {
	if len(c) == 0 {
		return "", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (c *ConflictList) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ConflictList", src)
	}
	if raw == "" {
		*c = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), c)
}

// Store is the interface for worktree persistence.
type Store interface {
	// CreateWorktree persists a new worktree record.
	CreateWorktree(ctx context.Context, wt *Worktree) error
	// GetWorktree retrieves a worktree by ID. Returns nil, nil when absent.
	GetWorktree(ctx context.Context, id string) (*Worktree, error)
	// GetWorktreeByName retrieves a non-deleted worktree by name.
	GetWorktreeByName(ctx context.Context, projectID, name string) (*Worktree, error)
	// UpdateWorktree updates an existing worktree record.
	UpdateWorktree(ctx context.Context, wt *Worktree) error
	// ListWorktrees returns all non-deleted worktrees for a project.
	ListWorktrees(ctx context.Context, projectID string) ([]*Worktree, error)
	// CountLive returns the number of creating or running worktrees for a
	// project.
	CountLive(ctx context.Context, projectID string) (int, error)
}

// SQLStore implements Store on a sqlx connection (sqlite or postgres).
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a worktree store and ensures the worktrees table exists.
func NewSQLStore(db *sqlx.DB) (*SQLStore, error) {
	store := &SQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize worktree schema: %w", err)
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS worktrees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_project_id TEXT NOT NULL,
		devchain_project_id TEXT NOT NULL DEFAULT '',
		repo_path TEXT NOT NULL,
		path TEXT NOT NULL,
		branch_name TEXT NOT NULL,
		base_branch TEXT NOT NULL,
		template_slug TEXT NOT NULL DEFAULT '',
		runtime_type TEXT NOT NULL DEFAULT 'process',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'creating',
		last_error TEXT NOT NULL DEFAULT '',
		merge_conflicts TEXT NOT NULL DEFAULT '',
		commits_ahead INTEGER NOT NULL DEFAULT 0,
		commits_behind INTEGER NOT NULL DEFAULT 0,
		sandbox_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		merged_at TIMESTAMP,
		deleted_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_worktrees_project ON worktrees(owner_project_id);
	CREATE INDEX IF NOT EXISTS idx_worktrees_status ON worktrees(status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Additive columns for databases created by earlier releases. ALTER is
	// sqlite-flavored here; postgres deployments start from the full schema.
	if s.db.DriverName() == "sqlite3" {
		for _, col := range []struct{ name, def string }{
			{"description", "TEXT NOT NULL DEFAULT ''"},
			{"sandbox_id", "TEXT NOT NULL DEFAULT ''"},
		} {
			if err := sqlite.EnsureColumn(s.db.DB, "worktrees", col.name, col.def); err != nil {
				return err
			}
		}
	}
	return nil
}

const worktreeColumns = `
	id, name, owner_project_id, devchain_project_id, repo_path, path,
	branch_name, base_branch, template_slug, runtime_type, description,
	status, last_error, merge_conflicts, commits_ahead, commits_behind,
	sandbox_id, created_at, updated_at, merged_at, deleted_at`

// CreateWorktree persists a new worktree record.
func (s *SQLStore) CreateWorktree(ctx context.Context, wt *Worktree) error {
	if wt.ID == "" {
		return fmt.Errorf("worktree ID is required")
	}
	now := time.Now().UTC()
	if wt.CreatedAt.IsZero() {
		wt.CreatedAt = now
	}
	wt.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO worktrees (`+worktreeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), wt.ID, wt.Name, wt.OwnerProjectID, wt.DevchainProjectID, wt.RepoPath, wt.Path,
		wt.BranchName, wt.BaseBranch, wt.TemplateSlug, wt.RuntimeType, wt.Description,
		wt.Status, wt.LastError, wt.MergeConflicts, wt.CommitsAhead, wt.CommitsBehind,
		wt.SandboxID, wt.CreatedAt, wt.UpdatedAt, wt.MergedAt, wt.DeletedAt)
	return err
}

// GetWorktree retrieves a worktree by ID.
func (s *SQLStore) GetWorktree(ctx context.Context, id string) (*Worktree, error) {
	wt := &Worktree{}
	err := s.db.GetContext(ctx, wt, s.db.Rebind(`
		SELECT `+worktreeColumns+` FROM worktrees WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return wt, nil
}

// GetWorktreeByName retrieves a non-deleted worktree by name.
func (s *SQLStore) GetWorktreeByName(ctx context.Context, projectID, name string) (*Worktree, error) {
	wt := &Worktree{}
	err := s.db.GetContext(ctx, wt, s.db.Rebind(`
		SELECT `+worktreeColumns+` FROM worktrees
		WHERE owner_project_id = ? AND name = ? AND status != ?
	`), projectID, name, StatusDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return wt, nil
}

// UpdateWorktree updates an existing worktree record.
func (s *SQLStore) UpdateWorktree(ctx context.Context, wt *Worktree) error {
	wt.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE worktrees SET
			devchain_project_id = ?, path = ?, branch_name = ?, base_branch = ?,
			template_slug = ?, runtime_type = ?, description = ?, status = ?,
			last_error = ?, merge_conflicts = ?, commits_ahead = ?,
			commits_behind = ?, sandbox_id = ?, updated_at = ?, merged_at = ?,
			deleted_at = ?
		WHERE id = ?
	`), wt.DevchainProjectID, wt.Path, wt.BranchName, wt.BaseBranch,
		wt.TemplateSlug, wt.RuntimeType, wt.Description, wt.Status,
		wt.LastError, wt.MergeConflicts, wt.CommitsAhead,
		wt.CommitsBehind, wt.SandboxID, wt.UpdatedAt, wt.MergedAt,
		wt.DeletedAt, wt.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrWorktreeNotFound
	}
	return nil
}

// ListWorktrees returns all non-deleted worktrees for a project.
func (s *SQLStore) ListWorktrees(ctx context.Context, projectID string) ([]*Worktree, error) {
	worktrees := []*Worktree{}
	err := s.db.SelectContext(ctx, &worktrees, s.db.Rebind(`
		SELECT `+worktreeColumns+` FROM worktrees
		WHERE owner_project_id = ? AND status != ?
		ORDER BY created_at
	`), projectID, StatusDeleted)
	if err != nil {
		return nil, err
	}
	return worktrees, nil
}

// CountLive returns the number of creating or running worktrees for a project.
func (s *SQLStore) CountLive(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT COUNT(*) FROM worktrees
		WHERE owner_project_id = ? AND status IN (?, ?)
	`), projectID, StatusCreating, StatusRunning)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Provide creates the worktree store.
func Provide(db *sqlx.DB) (*SQLStore, func() error, error) {
	store, err := NewSQLStore(db)
	if err != nil {
		return nil, nil, err
	}
	return store, func() error { return nil }, nil
}
