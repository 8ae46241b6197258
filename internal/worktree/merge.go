package worktree

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
)

// MergePreview is the read-only result of previewing a merge of the
// worktree branch into its base.
type MergePreview struct {
	WorktreeID    string                   `json:"worktree_id"`
	BaseBranch    string                   `json:"base_branch"`
	BranchName    string                   `json:"branch_name"`
	CommitsAhead  int                      `json:"commits_ahead"`
	CommitsBehind int                      `json:"commits_behind"`
	FilesChanged  int                      `json:"files_changed"`
	Insertions    int                      `json:"insertions"`
	Deletions     int                      `json:"deletions"`
	Conflicts     []apperrors.FileConflict `json:"conflicts,omitempty"`
	CanMerge      bool                     `json:"can_merge"`

	// Path is the worktree checkout, exposed for external editor hand-off
	// when conflicts need manual resolution.
	Path string `json:"path"`
}

// PreviewMerge computes what merging the worktree branch into its base
// would do, without touching the repository's index or working tree. Safe
// to call repeatedly. The one persisted effect: a clean preview clears
// conflict state left behind by an earlier failed merge.
func (m *Manager) PreviewMerge(ctx context.Context, id string) (*MergePreview, error) {
	wt, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	preview, err := m.computePreview(ctx, wt)
	if err != nil {
		return nil, err
	}

	// The stored ahead/behind counters belong to lifecycle transitions;
	// preview reports fresh numbers without writing them back.
	if len(preview.Conflicts) == 0 && len(wt.MergeConflicts) > 0 {
		// Conflicts were resolved out of band; stop reporting them.
		wt.MergeConflicts = nil
		if err := m.store.UpdateWorktree(ctx, wt); err != nil {
			m.logger.Warn("failed to clear merge conflicts after clean preview",
				zap.String("name", wt.Name), zap.Error(err))
		}
	}
	return preview, nil
}

func (m *Manager) computePreview(ctx context.Context, wt *Worktree) (*MergePreview, error) {
	ahead, behind, err := aheadBehind(ctx, wt.RepoPath, wt.BaseBranch, wt.BranchName)
	if err != nil {
		return nil, err
	}

	files, insertions, deletions, err := diffStat(ctx, wt.RepoPath, wt.BaseBranch, wt.BranchName)
	if err != nil {
		return nil, err
	}

	conflicts, err := mergeTreeConflicts(ctx, wt.RepoPath, wt.BaseBranch, wt.BranchName)
	if err != nil {
		return nil, err
	}

	return &MergePreview{
		WorktreeID:    wt.ID,
		BaseBranch:    wt.BaseBranch,
		BranchName:    wt.BranchName,
		CommitsAhead:  ahead,
		CommitsBehind: behind,
		FilesChanged:  files,
		Insertions:    insertions,
		Deletions:     deletions,
		Conflicts:     conflicts,
		CanMerge:      len(conflicts) == 0 && ahead > 0,
		Path:          wt.Path,
	}, nil
}

// TriggerMerge merges the worktree branch into its base. It refuses unless
// a fresh preview allows the merge. On conflict the file list is persisted
// on the worktree row, the in-repo merge is aborted, and a ConflictError is
// returned; the worktree stays running pending manual resolution.
func (m *Manager) TriggerMerge(ctx context.Context, id string) (*Worktree, error) {
	wt, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wt.Status != StatusRunning {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wt.Status, StatusMerged)
	}

	m.setMerging(wt.ID, true)
	defer m.setMerging(wt.ID, false)

	preview, err := m.computePreview(ctx, wt)
	if err != nil {
		return nil, err
	}
	if len(preview.Conflicts) > 0 {
		m.persistConflicts(ctx, wt, preview.Conflicts)
		return nil, apperrors.MergeBlocked(preview.Conflicts)
	}
	if !preview.CanMerge {
		return nil, fmt.Errorf("%w: nothing to merge", ErrMergeNotAllowed)
	}

	repoLock := m.getRepoLock(wt.RepoPath)
	repoLock.Lock()
	defer repoLock.Unlock()

	if _, err := runGit(ctx, wt.RepoPath, "checkout", wt.BaseBranch); err != nil {
		return nil, err
	}
	if _, err := runGit(ctx, wt.RepoPath, "merge", "--no-ff", "--no-edit", wt.BranchName); err != nil {
		// The preview raced a change in the repo; capture what conflicted
		// and put the repo back.
		conflicts := m.conflictedFiles(ctx, wt.RepoPath)
		if _, abortErr := runGit(ctx, wt.RepoPath, "merge", "--abort"); abortErr != nil {
			m.logger.Warn("failed to abort conflicted merge",
				zap.String("name", wt.Name), zap.Error(abortErr))
		}
		if len(conflicts) > 0 {
			m.persistConflicts(ctx, wt, conflicts)
			return nil, apperrors.MergeBlocked(conflicts)
		}
		return nil, err
	}

	wt.MergeConflicts = nil
	wt.CommitsAhead = 0
	wt.LastError = ""
	if err := m.transition(ctx, wt, StatusMerged, ""); err != nil {
		return nil, err
	}

	m.logger.Info("merged worktree",
		zap.String("name", wt.Name),
		zap.String("branch", wt.BranchName),
		zap.String("base", wt.BaseBranch))
	return wt, nil
}

// AbortMerge is the escape hatch for a conflicted in-repo merge: it runs
// git merge --abort and clears the merging flag. It never claims the merge
// succeeded; persisted conflict state stays until a clean preview.
func (m *Manager) AbortMerge(ctx context.Context, id string) error {
	wt, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	repoLock := m.getRepoLock(wt.RepoPath)
	repoLock.Lock()
	defer repoLock.Unlock()

	if _, err := runGit(ctx, wt.RepoPath, "merge", "--abort"); err != nil {
		// No merge in progress is fine; anything else is reported.
		m.logger.Debug("git merge --abort", zap.String("name", wt.Name), zap.Error(err))
	}
	m.setMerging(wt.ID, false)
	return nil
}

// persistConflicts attaches the conflict list to the worktree row so it
// survives dialog close and process restart.
func (m *Manager) persistConflicts(ctx context.Context, wt *Worktree, conflicts []apperrors.FileConflict) {
	wt.MergeConflicts = ConflictList(conflicts)
	if err := m.store.UpdateWorktree(ctx, wt); err != nil {
		m.logger.Warn("failed to persist merge conflicts",
			zap.String("name", wt.Name), zap.Error(err))
	}
}

// conflictedFiles lists unmerged paths in a repo with a merge in progress.
func (m *Manager) conflictedFiles(ctx context.Context, repoPath string) []apperrors.FileConflict {
	out, err := runGit(ctx, repoPath, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var conflicts []apperrors.FileConflict
	for _, line := range splitLines(out) {
		conflicts = append(conflicts, apperrors.FileConflict{File: line, Type: "content"})
	}
	return conflicts
}
