package proxy

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/session"
	"github.com/TwiTech-LAB/devchain/internal/worktree"
)

// SessionDirectory lists registered sessions. Satisfied by the session
// registry.
type SessionDirectory interface {
	Snapshot() []*session.Session
}

// Drainer terminates the active sessions of a scope before the scope goes
// away, e.g. when a worktree is stopped or deleted. Termination goes
// through the scope's own ops so the boundary semantics stay uniform.
type Drainer struct {
	router   *ScopeRouter
	sessions SessionDirectory
	logger   *logger.Logger
}

// NewDrainer creates a drainer over the scope router.
func NewDrainer(router *ScopeRouter, sessions SessionDirectory, log *logger.Logger) *Drainer {
	if log == nil {
		log = logger.Default()
	}
	return &Drainer{
		router:   router,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "scope-drainer")),
	}
}

// DrainScope resolves the named scope and terminates every active session
// in it. A scope that cannot be resolved has no reachable sessions, so
// that is not an error. Individual termination failures are logged and do
// not stop the drain.
func (d *Drainer) DrainScope(ctx context.Context, name string) error {
	scope, err := d.router.Resolve(ctx, name)
	if err != nil {
		if errors.Is(err, ErrScopeUnavailable) || errors.Is(err, worktree.ErrWorktreeNotFound) {
			return nil
		}
		return err
	}

	for _, sess := range d.sessions.Snapshot() {
		if sess.ProjectID != scope.ProjectID || !sess.Active() {
			continue
		}
		if err := scope.Ops.Terminate(ctx, sess.ID); err != nil {
			d.logger.Warn("Failed to terminate session during scope drain",
				zap.String("scope", scope.Name),
				zap.String("session_id", sess.ID),
				zap.Error(err))
		}
	}
	return nil
}
