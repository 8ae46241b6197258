// Package worktree implements the worktree lifecycle state machine and the
// merge coordinator: isolated git worktrees with their own sandboxed devchain
// instance, created, stopped, merged back, and deleted under per-repo locks.
package worktree

import (
	"fmt"
	"time"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
)

// Status is the stored lifecycle state of a worktree.
type Status string

const (
	// StatusCreating is a worktree whose directory and sandbox are being set up.
	StatusCreating Status = "creating"

	// StatusRunning is a live worktree with an attached sandbox.
	StatusRunning Status = "running"

	// StatusMerged is a worktree whose branch has been merged into its base.
	StatusMerged Status = "merged"

	// StatusStopped is a worktree explicitly stopped; directory and branch remain.
	StatusStopped Status = "stopped"

	// StatusError is a worktree whose creation or sandbox failed.
	StatusError Status = "error"

	// StatusDeleted is a removed worktree. Terminal; rows stay for history but
	// are dropped from listings.
	StatusDeleted Status = "deleted"
)

// ParseStatus validates a raw status string. Unrecognized values are
// rejected, never defaulted.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusCreating, StatusRunning, StatusMerged, StatusStopped, StatusError, StatusDeleted:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("unrecognized worktree status: %q", raw)
	}
}

// validTransitions is the lifecycle state machine. Deletion is handled
// separately: it is legal from any non-creating state.
var validTransitions = map[Status][]Status{
	StatusCreating: {StatusRunning, StatusError},
	StatusRunning:  {StatusMerged, StatusStopped, StatusError},
	StatusStopped:  {},
	StatusMerged:   {},
	StatusError:    {},
}

// CanTransition reports whether from -> to is a legal lifecycle transition.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RuntimeType selects how a worktree's sandbox is hosted.
type RuntimeType string

const (
	RuntimeContainer RuntimeType = "container"
	RuntimeProcess   RuntimeType = "process"
)

// VisualStatus is the derived, never-stored display state.
type VisualStatus string

const (
	// VisualIdle is a running worktree with no commits ahead or behind and
	// no merge conflicts.
	VisualIdle VisualStatus = "idle"

	// VisualRunning is a running worktree with pending work.
	VisualRunning VisualStatus = "running"

	// VisualMerging overrides everything while a merge is in flight.
	VisualMerging VisualStatus = "merging"
)

// Worktree is one isolated sandbox tied to a git worktree and branch.
type Worktree struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// OwnerProjectID is the main project this worktree belongs to.
	OwnerProjectID string `json:"owner_project_id" db:"owner_project_id"`

	// DevchainProjectID is the project id of the devchain instance running
	// inside the sandbox. Empty until the sandbox resolves it; session
	// operations for this worktree are unavailable while empty.
	DevchainProjectID string `json:"devchain_project_id,omitempty" db:"devchain_project_id"`

	RepoPath     string      `json:"repo_path" db:"repo_path"`
	Path         string      `json:"path" db:"path"`
	BranchName   string      `json:"branch_name" db:"branch_name"`
	BaseBranch   string      `json:"base_branch" db:"base_branch"`
	TemplateSlug string      `json:"template_slug,omitempty" db:"template_slug"`
	RuntimeType  RuntimeType `json:"runtime_type" db:"runtime_type"`
	Description  string      `json:"description,omitempty" db:"description"`

	Status Status `json:"status" db:"status"`

	// LastError holds the failure message when Status is error, or the
	// latest per-worktree operation failure otherwise.
	LastError string `json:"last_error,omitempty" db:"last_error"`

	// MergeConflicts persists the conflicting files of the last failed merge
	// until a later clean preview clears them.
	MergeConflicts ConflictList `json:"merge_conflicts,omitempty" db:"merge_conflicts"`

	CommitsAhead  int `json:"commits_ahead" db:"commits_ahead"`
	CommitsBehind int `json:"commits_behind" db:"commits_behind"`

	// SandboxID is the container id or process handle of the sandbox.
	SandboxID string `json:"sandbox_id,omitempty" db:"sandbox_id"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	MergedAt  *time.Time `json:"merged_at,omitempty" db:"merged_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Active reports whether the worktree is usable for session work.
func (w *Worktree) Active() bool {
	return w.Status == StatusRunning
}

// Visual computes the derived display status. merging is the ephemeral
// in-flight flag tracked by the manager, never persisted.
func (w *Worktree) Visual(merging bool) VisualStatus {
	if merging {
		return VisualMerging
	}
	if w.Status == StatusRunning &&
		w.CommitsAhead == 0 && w.CommitsBehind == 0 &&
		len(w.MergeConflicts) == 0 && w.LastError == "" {
		return VisualIdle
	}
	if w.Status == StatusRunning {
		return VisualRunning
	}
	return VisualStatus(w.Status)
}

// CreateRequest contains the parameters for creating a new worktree.
type CreateRequest struct {
	// Name is the worktree name. Must already be a valid DNS label; use
	// NormalizeName on raw user input first.
	Name string `json:"name"`

	OwnerProjectID string `json:"owner_project_id"`
	RepoPath       string `json:"repo_path"`

	// BranchName is the branch to create for the worktree. Derived from
	// Name when empty.
	BranchName string `json:"branch_name,omitempty"`

	// BaseBranch defaults to the configured default branch.
	BaseBranch string `json:"base_branch,omitempty"`

	TemplateSlug string `json:"template_slug,omitempty"`

	// RuntimeType defaults to container when a container runtime is
	// available, else process.
	RuntimeType RuntimeType `json:"runtime_type,omitempty"`

	Description string `json:"description,omitempty"`
}

// Validate checks the request before any store or git call is made.
func (r *CreateRequest) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if r.OwnerProjectID == "" {
		return apperrors.Validation("owner_project_id", "project id is required")
	}
	if r.RepoPath == "" {
		return apperrors.Validation("repo_path", "repository path is required")
	}
	if r.BranchName != "" {
		if err := ValidateBranchRef(r.BranchName); err != nil {
			return err
		}
	}
	if r.BaseBranch != "" {
		if err := ValidateBranchRef(r.BaseBranch); err != nil {
			return err
		}
	}
	return nil
}

// Overview is the list-view projection: the worktree plus its derived state.
type Overview struct {
	Worktree     *Worktree    `json:"worktree"`
	VisualStatus VisualStatus `json:"visual_status"`
	Deleting     bool         `json:"deleting"`
}

// ActivityEntry records one lifecycle transition for the activity feed.
type ActivityEntry struct {
	WorktreeID   string    `json:"worktree_id"`
	WorktreeName string    `json:"worktree_name"`
	From         Status    `json:"from,omitempty"`
	To           Status    `json:"to"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}
