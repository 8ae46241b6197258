package handlers

import (
	"errors"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/worktree"
)

// translateError maps the worktree package's sentinel errors onto the
// structured error types the HTTP layer knows how to serialize. Structured
// errors pass through unchanged.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, worktree.ErrWorktreeNotFound):
		return apperrors.NotFound("worktree", "")
	case errors.Is(err, worktree.ErrRepoNotGit),
		errors.Is(err, worktree.ErrInvalidBaseBranch),
		errors.Is(err, worktree.ErrUnknownTemplate):
		return apperrors.Validation("", err.Error())
	case errors.Is(err, worktree.ErrMaxWorktrees),
		errors.Is(err, worktree.ErrInvalidTransition),
		errors.Is(err, worktree.ErrWorktreeActive),
		errors.Is(err, worktree.ErrMergeNotAllowed):
		return apperrors.Conflict(err.Error())
	default:
		return err
	}
}
