package proxy

import "sync"

// BusyKey identifies one agent within one scope. The worktree component
// keeps busy state isolated: the same agent id in two scopes, or a
// worktree agent sharing an id with a main-project agent, never
// cross-contaminate.
type BusyKey struct {
	// Worktree is the scope name: MainScope or a worktree name.
	Worktree string
	AgentID  string
}

// BusyTracker tracks in-flight session operations per (scope, agent).
type BusyTracker struct {
	mu   sync.RWMutex
	busy map[BusyKey]bool
}

func NewBusyTracker() *BusyTracker {
	return &BusyTracker{busy: make(map[BusyKey]bool)}
}

// TrySet marks the key busy. Returns false when it already was.
func (t *BusyTracker) TrySet(key BusyKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy[key] {
		return false
	}
	t.busy[key] = true
	return true
}

// Clear releases the key.
func (t *BusyTracker) Clear(key BusyKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.busy, key)
}

// IsBusy reports whether the key has an in-flight operation.
func (t *BusyTracker) IsBusy(key BusyKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.busy[key]
}
