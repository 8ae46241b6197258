package worktree

import "errors"

var (
	// ErrWorktreeNotFound is returned when the requested worktree does not exist.
	ErrWorktreeNotFound = errors.New("worktree not found")

	// ErrRepoNotGit is returned when the repository path is not a git repository.
	ErrRepoNotGit = errors.New("repository is not a git repository")

	// ErrInvalidBaseBranch is returned when the base branch does not exist.
	ErrInvalidBaseBranch = errors.New("base branch does not exist")

	// ErrMaxWorktrees is returned when the per-project worktree limit is reached.
	ErrMaxWorktrees = errors.New("maximum worktrees reached for project")

	// ErrGitCommandFailed is returned when a git command fails to execute.
	ErrGitCommandFailed = errors.New("git command failed")

	// ErrInvalidTransition is returned for an illegal lifecycle transition.
	ErrInvalidTransition = errors.New("invalid worktree state transition")

	// ErrWorktreeActive is returned when deleting a worktree still being created.
	ErrWorktreeActive = errors.New("worktree is still being created")

	// ErrMergeNotAllowed is returned when a merge is triggered without a
	// clean preview.
	ErrMergeNotAllowed = errors.New("merge preview did not allow merging")

	// ErrUnknownTemplate is returned for a template slug not in the catalog.
	ErrUnknownTemplate = errors.New("unknown worktree template")
)
