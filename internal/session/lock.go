package session

import (
	"context"
	"sync"
)

// LockCoordinator provides per-agent mutual exclusion for session-mutating
// operations. Locks are non-reentrant: an operation that already holds an
// agent's lock must not call another public operation that acquires it.
// Restart is therefore a single critical section calling lock-free internal
// helpers, never a composition of the public self-locking operations.
type LockCoordinator struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLockCoordinator creates an empty lock coordinator.
func NewLockCoordinator() *LockCoordinator {
	return &LockCoordinator{locks: make(map[string]chan struct{})}
}

// lockFor returns the semaphore channel for the given agent, creating it on
// first use.
func (c *LockCoordinator) lockFor(agentID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, exists := c.locks[agentID]; exists {
		return ch
	}
	ch := make(chan struct{}, 1)
	c.locks[agentID] = ch
	return ch
}

// WithAgentLock acquires the exclusive lock for agentID, runs fn, and
// releases the lock on every exit path, including panics. Waiting for the
// lock is aborted when ctx is canceled; fn's error propagates unchanged.
func (c *LockCoordinator) WithAgentLock(ctx context.Context, agentID string, fn func(ctx context.Context) error) error {
	ch := c.lockFor(agentID)

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ch }()

	return fn(ctx)
}
