package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/common/logger"
)

// Registry tracks active sessions per agent. It is the single source of
// truth for "is agent X online, and with which session". The registry does
// not itself assume the at-most-one invariant; the lifecycle service
// establishes it by serializing mutations through the lock coordinator.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*Session // sessionID -> session
	store  Store
	logger *logger.Logger
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(store Store, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		active: make(map[string]*Session),
		store:  store,
		logger: log.WithFields(zap.String("component", "session-registry")),
	}
}

// Restore rebuilds the in-memory active index from rows still marked running.
// Called once at boot, before any lifecycle operation.
func (r *Registry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	sessions, err := r.store.ListAllActive(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range sessions {
		r.active[sess.ID] = sess
	}
	r.logger.Info("restored active sessions", zap.Int("count", len(sessions)))
	return nil
}

// Register inserts a new running session.
func (r *Registry) Register(ctx context.Context, sess *Session) error {
	if r.store != nil {
		if err := r.store.CreateSession(ctx, sess); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.active[sess.ID] = sess
	r.mu.Unlock()

	r.logger.Info("registered session",
		zap.String("session_id", sess.ID),
		zap.String("agent_id", sess.AgentID))
	return nil
}

// End marks a session ended. Ending a session that no longer exists (or was
// already ended) is a no-op, not an error.
func (r *Registry) End(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()

	if r.store != nil {
		if err := r.store.EndSession(ctx, sessionID, now); err != nil {
			return err
		}
	}

	r.mu.Lock()
	sess, ok := r.active[sessionID]
	if ok {
		sess.Status = StatusEnded
		sess.EndedAt = &now
		delete(r.active, sessionID)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("ended session",
			zap.String("session_id", sessionID),
			zap.String("agent_id", sess.AgentID))
	}
	return nil
}

// ListActiveSessions returns all running sessions for an agent. Expected 0
// or 1 under the invariant.
func (r *Registry) ListActiveSessions(agentID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, sess := range r.active {
		if sess.AgentID == agentID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Get returns the active session with the given id, or nil.
func (r *Registry) Get(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[sessionID]
}

// PresenceFor computes the derived presence view for the given agents.
func (r *Registry) PresenceFor(agentIDs []string) []Presence {
	r.mu.RLock()
	bySession := make(map[string]string, len(r.active)) // agentID -> sessionID
	for _, sess := range r.active {
		bySession[sess.AgentID] = sess.ID
	}
	r.mu.RUnlock()

	out := make([]Presence, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		sessionID, online := bySession[agentID]
		out = append(out, Presence{AgentID: agentID, Online: online, SessionID: sessionID})
	}
	return out
}

// Snapshot returns a copy of every active session.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.active))
	for _, sess := range r.active {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// HasActiveSession reports whether the agent has a running session.
func (r *Registry) HasActiveSession(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.active {
		if sess.AgentID == agentID {
			return true
		}
	}
	return false
}

// ActiveCount returns the number of running sessions across all agents.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
