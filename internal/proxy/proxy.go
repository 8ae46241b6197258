// Package proxy routes session operations across the main/worktree
// boundary. Each running worktree hosts its own devchain instance with an
// independent session registry; operations targeting a worktree agent go
// over HTTP to that instance instead of the local service.
package proxy

import (
	"context"
	"errors"

	"github.com/TwiTech-LAB/devchain/internal/session"
)

// ErrScopeUnavailable is returned for a worktree whose sandbox has not
// resolved a project id. The proxy never guesses an address.
var ErrScopeUnavailable = errors.New("worktree scope unavailable: no resolved project id")

// MainScope is the scope name for the main project.
const MainScope = "main"

// SessionOps is the session surface shared by the local lifecycle service
// and the remote, per-worktree instances.
type SessionOps interface {
	Launch(ctx context.Context, req session.LaunchRequest) (*session.Session, error)
	Terminate(ctx context.Context, sessionID string) error
	Restart(ctx context.Context, req session.RestartRequest) (*session.RestartResult, error)
}

// Scope is a resolved session boundary: the main project or one worktree.
type Scope struct {
	// Name is MainScope or the worktree name.
	Name string

	// ProjectID is the project id session operations in this scope act on.
	ProjectID string

	// Ops executes session operations inside the scope.
	Ops SessionOps
}
