package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/events/bus"
)

// activityLimit caps the in-memory activity feed.
const activityLimit = 200

// Manager drives the worktree lifecycle state machine. Git operations
// against the same repository are serialized by per-repo locks; everything
// else runs concurrently.
type Manager struct {
	config  Config
	store   Store
	catalog *Catalog
	sandbox Sandbox
	bus     bus.EventBus
	logger  *logger.Logger

	containerAvailable bool

	repoLocks  map[string]*sync.Mutex
	repoLockMu sync.Mutex

	// flagMu guards the ephemeral per-worktree flags. Neither is persisted.
	flagMu   sync.RWMutex
	merging  map[string]bool
	deleting map[string]bool

	activityMu sync.Mutex
	activity   []ActivityEntry
}

// NewManager creates a worktree manager and ensures the base directory
// exists. Container availability is probed once here; it decides the
// default runtime for new worktrees.
func NewManager(ctx context.Context, cfg Config, store Store, catalog *Catalog, sandbox Sandbox, eventBus bus.EventBus, log *logger.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logger.Default()
	}

	basePath, err := cfg.ExpandedBasePath()
	if err != nil {
		return nil, fmt.Errorf("failed to expand base path: %w", err)
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktree base directory: %w", err)
	}

	m := &Manager{
		config:    cfg,
		store:     store,
		catalog:   catalog,
		sandbox:   sandbox,
		bus:       eventBus,
		logger:    log.WithFields(zap.String("component", "worktree-manager")),
		repoLocks: make(map[string]*sync.Mutex),
		merging:   make(map[string]bool),
		deleting:  make(map[string]bool),
	}
	if sandbox != nil {
		if _, isContainer := sandbox.(*DockerSandbox); isContainer {
			m.containerAvailable = sandbox.Available(ctx)
		}
	}
	return m, nil
}

// getRepoLock returns the mutex for the given repository path.
func (m *Manager) getRepoLock(repoPath string) *sync.Mutex {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()

	if lock, exists := m.repoLocks[repoPath]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	m.repoLocks[repoPath] = lock
	return lock
}

// Create validates the request, records the worktree as creating, performs
// the git checkout under the repo lock, starts the sandbox, and transitions
// to running. Any failure after the row exists lands the worktree in error
// with the cause attached.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Worktree, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if !isGitRepo(req.RepoPath) {
		return nil, ErrRepoNotGit
	}

	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = m.config.DefaultBranch
	}
	if !branchExists(ctx, req.RepoPath, baseBranch) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBaseBranch, baseBranch)
	}

	branchName := req.BranchName
	if branchName == "" {
		branchName = DeriveBranchName(req.Name)
	}

	existing, err := m.store.GetWorktreeByName(ctx, req.OwnerProjectID, req.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict(fmt.Sprintf("worktree %q already exists", req.Name))
	}

	count, err := m.store.CountLive(ctx, req.OwnerProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count worktrees: %w", err)
	}
	if count >= m.config.MaxPerProject {
		return nil, fmt.Errorf("%w: %d", ErrMaxWorktrees, m.config.MaxPerProject)
	}

	tmpl, err := m.catalog.Get(req.TemplateSlug)
	if err != nil {
		return nil, err
	}

	runtimeType := req.RuntimeType
	if runtimeType == "" {
		runtimeType = RuntimeContainer
	}
	if runtimeType == RuntimeContainer && !m.containerAvailable {
		// No container runtime on this host; process is the only option.
		runtimeType = RuntimeProcess
	}

	path, err := m.config.WorktreePath(req.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree path: %w", err)
	}

	now := time.Now().UTC()
	wt := &Worktree{
		ID:             uuid.New().String(),
		Name:           req.Name,
		OwnerProjectID: req.OwnerProjectID,
		RepoPath:       req.RepoPath,
		Path:           path,
		BranchName:     branchName,
		BaseBranch:     baseBranch,
		TemplateSlug:   tmpl.Slug,
		RuntimeType:    runtimeType,
		Description:    req.Description,
		Status:         StatusCreating,
		CreatedAt:      now,
	}
	if err := m.store.CreateWorktree(ctx, wt); err != nil {
		return nil, fmt.Errorf("failed to persist worktree: %w", err)
	}
	m.recordActivity(wt, "", StatusCreating, "")

	if err := m.checkout(ctx, wt); err != nil {
		m.failWorktree(ctx, wt, err)
		return nil, err
	}

	info, err := m.startSandbox(ctx, wt, tmpl)
	if err != nil {
		m.removeCheckout(ctx, wt)
		m.failWorktree(ctx, wt, err)
		return nil, err
	}
	wt.SandboxID = info.ID
	wt.DevchainProjectID = info.DevchainProjectID

	if err := m.transition(ctx, wt, StatusRunning, ""); err != nil {
		return nil, err
	}

	m.logger.Info("created worktree",
		zap.String("name", wt.Name),
		zap.String("path", wt.Path),
		zap.String("branch", wt.BranchName),
		zap.String("runtime", string(wt.RuntimeType)))
	return wt, nil
}

// checkout runs git worktree add under the repo lock.
func (m *Manager) checkout(ctx context.Context, wt *Worktree) error {
	repoLock := m.getRepoLock(wt.RepoPath)
	repoLock.Lock()
	defer repoLock.Unlock()

	_, err := runGit(ctx, wt.RepoPath, "worktree", "add", "-b", wt.BranchName, wt.Path, wt.BaseBranch)
	if err != nil && branchExists(ctx, wt.RepoPath, wt.BranchName) {
		// The branch survived an earlier attempt; reuse it.
		_, err = runGit(ctx, wt.RepoPath, "worktree", "add", wt.Path, wt.BranchName)
	}
	return err
}

func (m *Manager) startSandbox(ctx context.Context, wt *Worktree, tmpl Template) (*SandboxInfo, error) {
	if m.sandbox == nil {
		return &SandboxInfo{}, nil
	}
	info, err := m.sandbox.Start(ctx, wt, tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}
	return info, nil
}

// failWorktree lands a worktree in error with the cause attached to its row.
func (m *Manager) failWorktree(ctx context.Context, wt *Worktree, cause error) {
	log := m.logger.WithWorktree(wt.Name)
	log.Error("Worktree operation failed", zap.Error(cause))

	wt.LastError = cause.Error()
	if err := m.transition(ctx, wt, StatusError, cause.Error()); err != nil {
		log.Warn("failed to record worktree error state", zap.Error(err))
	}
}

// transition moves a worktree to a new status, enforcing the state machine,
// persisting the row, and emitting the event.
func (m *Manager) transition(ctx context.Context, wt *Worktree, to Status, detail string) error {
	from := wt.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	wt.Status = to
	if to == StatusMerged {
		now := time.Now().UTC()
		wt.MergedAt = &now
	}
	if err := m.store.UpdateWorktree(ctx, wt); err != nil {
		wt.Status = from
		return err
	}

	m.recordActivity(wt, from, to, detail)
	m.publish(ctx, subjectFor(to), wt)
	return nil
}

// Get returns a worktree by id.
func (m *Manager) Get(ctx context.Context, id string) (*Worktree, error) {
	wt, err := m.store.GetWorktree(ctx, id)
	if err != nil {
		return nil, err
	}
	if wt == nil || wt.Status == StatusDeleted {
		return nil, ErrWorktreeNotFound
	}
	return wt, nil
}

// GetByName returns a non-deleted worktree by name.
func (m *Manager) GetByName(ctx context.Context, projectID, name string) (*Worktree, error) {
	wt, err := m.store.GetWorktreeByName(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, ErrWorktreeNotFound
	}
	return wt, nil
}

// List returns all non-deleted worktrees for a project.
func (m *Manager) List(ctx context.Context, projectID string) ([]*Worktree, error) {
	return m.store.ListWorktrees(ctx, projectID)
}

// ListOverviews returns the list projection with derived visual status and
// per-worktree busy flags.
func (m *Manager) ListOverviews(ctx context.Context, projectID string) ([]*Overview, error) {
	worktrees, err := m.store.ListWorktrees(ctx, projectID)
	if err != nil {
		return nil, err
	}

	m.flagMu.RLock()
	defer m.flagMu.RUnlock()

	out := make([]*Overview, 0, len(worktrees))
	for _, wt := range worktrees {
		out = append(out, &Overview{
			Worktree:     wt,
			VisualStatus: wt.Visual(m.merging[wt.ID]),
			Deleting:     m.deleting[wt.ID],
		})
	}
	return out, nil
}

// ListActivity returns recent lifecycle transitions, newest first.
func (m *Manager) ListActivity(limit int) []ActivityEntry {
	m.activityMu.Lock()
	defer m.activityMu.Unlock()

	if limit <= 0 || limit > len(m.activity) {
		limit = len(m.activity)
	}
	out := make([]ActivityEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.activity[len(m.activity)-1-i]
	}
	return out
}

// Stop transitions a running worktree to stopped and tears down its
// sandbox. The checkout and branch remain.
func (m *Manager) Stop(ctx context.Context, id string) (*Worktree, error) {
	wt, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wt.Status != StatusRunning {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wt.Status, StatusStopped)
	}

	if m.sandbox != nil && wt.SandboxID != "" {
		if err := m.sandbox.Stop(ctx, wt.SandboxID); err != nil {
			m.logger.Warn("failed to stop sandbox",
				zap.String("name", wt.Name), zap.Error(err))
		}
		wt.SandboxID = ""
		wt.DevchainProjectID = ""
	}

	if err := m.transition(ctx, wt, StatusStopped, ""); err != nil {
		return nil, err
	}
	return wt, nil
}

// Delete removes a worktree from any non-creating state: sandbox, checkout,
// and optionally the branch. The deleting flag is scoped to this worktree
// so others stay interactive; on failure the error is recorded on the row
// and the operation can be retried.
func (m *Manager) Delete(ctx context.Context, id string, deleteBranch bool) error {
	wt, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if wt.Status == StatusCreating {
		return ErrWorktreeActive
	}

	m.flagMu.Lock()
	if m.deleting[wt.ID] {
		m.flagMu.Unlock()
		return apperrors.Conflict(fmt.Sprintf("worktree %q is already being deleted", wt.Name))
	}
	m.deleting[wt.ID] = true
	m.flagMu.Unlock()

	defer func() {
		m.flagMu.Lock()
		delete(m.deleting, wt.ID)
		m.flagMu.Unlock()
	}()

	if err := m.deleteWorktree(ctx, wt, deleteBranch); err != nil {
		wt.LastError = err.Error()
		if updErr := m.store.UpdateWorktree(ctx, wt); updErr != nil {
			m.logger.Warn("failed to record delete error",
				zap.String("name", wt.Name), zap.Error(updErr))
		}
		return err
	}
	return nil
}

func (m *Manager) deleteWorktree(ctx context.Context, wt *Worktree, deleteBranch bool) error {
	if m.sandbox != nil && wt.SandboxID != "" {
		if err := m.sandbox.Stop(ctx, wt.SandboxID); err != nil {
			m.logger.Warn("failed to stop sandbox during delete",
				zap.String("name", wt.Name), zap.Error(err))
		}
	}

	repoLock := m.getRepoLock(wt.RepoPath)
	repoLock.Lock()
	defer repoLock.Unlock()

	m.removeCheckout(ctx, wt)

	if deleteBranch {
		if _, err := runGit(ctx, wt.RepoPath, "branch", "-D", wt.BranchName); err != nil {
			m.logger.Warn("failed to delete branch",
				zap.String("branch", wt.BranchName), zap.Error(err))
		}
	}

	from := wt.Status
	now := time.Now().UTC()
	wt.Status = StatusDeleted
	wt.DeletedAt = &now
	wt.SandboxID = ""
	wt.DevchainProjectID = ""
	if err := m.store.UpdateWorktree(ctx, wt); err != nil {
		wt.Status = from
		wt.DeletedAt = nil
		return err
	}

	m.recordActivity(wt, from, StatusDeleted, "")
	m.publish(ctx, bus.SubjectWorktreeDeleted, wt)

	m.logger.Info("deleted worktree",
		zap.String("name", wt.Name),
		zap.Bool("branch_deleted", deleteBranch))
	return nil
}

// removeCheckout removes the worktree directory, falling back to rm plus
// prune when git refuses.
func (m *Manager) removeCheckout(ctx context.Context, wt *Worktree) {
	if _, err := runGit(ctx, wt.RepoPath, "worktree", "remove", "--force", wt.Path); err != nil {
		m.logger.Debug("git worktree remove failed, falling back to rm",
			zap.String("path", wt.Path), zap.Error(err))
		if rmErr := os.RemoveAll(wt.Path); rmErr != nil {
			m.logger.Warn("failed to remove worktree directory",
				zap.String("path", wt.Path), zap.Error(rmErr))
		}
		if _, pruneErr := runGit(ctx, wt.RepoPath, "worktree", "prune"); pruneErr != nil {
			m.logger.Debug("git worktree prune failed", zap.Error(pruneErr))
		}
	}
}

// Reconcile repairs worktree rows against reality at boot: rows stuck in
// creating become error, running rows whose checkout vanished become
// stopped.
func (m *Manager) Reconcile(ctx context.Context, projectID string) error {
	worktrees, err := m.store.ListWorktrees(ctx, projectID)
	if err != nil {
		return err
	}

	for _, wt := range worktrees {
		switch wt.Status {
		case StatusCreating:
			m.logger.Warn("worktree stuck in creating, marking error",
				zap.String("name", wt.Name))
			m.failWorktree(ctx, wt, errors.New("interrupted during creation"))
		case StatusRunning:
			if _, err := os.Stat(wt.Path); err != nil {
				m.logger.Warn("worktree checkout missing, marking stopped",
					zap.String("name", wt.Name), zap.String("path", wt.Path))
				wt.SandboxID = ""
				wt.DevchainProjectID = ""
				if err := m.transition(ctx, wt, StatusStopped, "checkout missing at boot"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Deleting reports the ephemeral per-worktree deleting flag.
func (m *Manager) Deleting(id string) bool {
	m.flagMu.RLock()
	defer m.flagMu.RUnlock()
	return m.deleting[id]
}

func (m *Manager) setMerging(id string, v bool) {
	m.flagMu.Lock()
	defer m.flagMu.Unlock()
	if v {
		m.merging[id] = true
	} else {
		delete(m.merging, id)
	}
}

// Merging reports the ephemeral merge-in-progress flag.
func (m *Manager) Merging(id string) bool {
	m.flagMu.RLock()
	defer m.flagMu.RUnlock()
	return m.merging[id]
}

func (m *Manager) recordActivity(wt *Worktree, from, to Status, detail string) {
	m.activityMu.Lock()
	defer m.activityMu.Unlock()

	m.activity = append(m.activity, ActivityEntry{
		WorktreeID:   wt.ID,
		WorktreeName: wt.Name,
		From:         from,
		To:           to,
		Detail:       detail,
		At:           time.Now().UTC(),
	})
	if len(m.activity) > activityLimit {
		m.activity = m.activity[len(m.activity)-activityLimit:]
	}
}

func (m *Manager) publish(ctx context.Context, subject string, wt *Worktree) {
	if m.bus == nil {
		return
	}
	event := bus.NewEvent(subject, "worktree-manager", map[string]any{
		"worktree_id":   wt.ID,
		"worktree_name": wt.Name,
		"status":        string(wt.Status),
	})
	if err := m.bus.Publish(ctx, subject, event); err != nil {
		m.logger.Warn("failed to publish worktree event",
			zap.String("subject", subject), zap.Error(err))
	}
}

func subjectFor(status Status) string {
	switch status {
	case StatusCreating:
		return bus.SubjectWorktreeCreated
	case StatusRunning:
		return bus.SubjectWorktreeRunning
	case StatusStopped:
		return bus.SubjectWorktreeStopped
	case StatusMerged:
		return bus.SubjectWorktreeMerged
	case StatusError:
		return bus.SubjectWorktreeFailed
	case StatusDeleted:
		return bus.SubjectWorktreeDeleted
	}
	return bus.SubjectWorktreeFailed
}
