package proxy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/worktree"
)

// WorktreeResolver looks up worktrees by name. Satisfied by the worktree
// manager.
type WorktreeResolver interface {
	GetByName(ctx context.Context, projectID, name string) (*worktree.Worktree, error)
}

// ScopeRouter resolves scope names to session boundaries. The main scope is
// bound to the local lifecycle service; each running worktree gets a scope
// backed by an HTTP client against its own instance.
type ScopeRouter struct {
	mainOps       SessionOps
	mainProjectID string
	worktrees     WorktreeResolver
	gatewayAddr   string
	logger        *logger.Logger

	// newClient builds the remote ops for a worktree scope. Swappable in
	// tests.
	newClient func(baseURL string) SessionOps
}

// NewScopeRouter creates the router. gatewayAddr is the host:port worktree
// scopes are reachable through.
func NewScopeRouter(mainOps SessionOps, mainProjectID string, worktrees WorktreeResolver, gatewayAddr string, log *logger.Logger) *ScopeRouter {
	if log == nil {
		log = logger.Default()
	}
	r := &ScopeRouter{
		mainOps:       mainOps,
		mainProjectID: mainProjectID,
		worktrees:     worktrees,
		gatewayAddr:   gatewayAddr,
		logger:        log.WithFields(zap.String("component", "scope-router")),
	}
	r.newClient = func(baseURL string) SessionOps {
		return NewClient(baseURL, r.logger)
	}
	return r
}

// Resolve returns the scope for a name. Empty and "main" resolve to the
// main project. A worktree scope requires a running worktree with a
// resolved project id; anything less is ErrScopeUnavailable, never a
// guessed address.
func (r *ScopeRouter) Resolve(ctx context.Context, name string) (*Scope, error) {
	if name == "" || name == MainScope {
		return &Scope{Name: MainScope, ProjectID: r.mainProjectID, Ops: r.mainOps}, nil
	}

	wt, err := r.worktrees.GetByName(ctx, r.mainProjectID, name)
	if err != nil {
		return nil, err
	}
	if !wt.Active() || wt.DevchainProjectID == "" {
		return nil, fmt.Errorf("%w: worktree %q", ErrScopeUnavailable, name)
	}

	baseURL := fmt.Sprintf("http://%s/worktrees/%s/api", r.gatewayAddr, wt.Name)
	return &Scope{
		Name:      wt.Name,
		ProjectID: wt.DevchainProjectID,
		Ops:       r.newClient(baseURL),
	}, nil
}
