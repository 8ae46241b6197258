package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/agent"
	"github.com/TwiTech-LAB/devchain/internal/common/config"
	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/events/bus"
)

// AgentDirectory resolves agents for restart targeting. Satisfied by the
// agent store: lookups return nil, nil when nothing matches.
type AgentDirectory interface {
	Get(ctx context.Context, id string) (*agent.Agent, error)
	GetByName(ctx context.Context, projectID, name string) (*agent.Agent, error)
}

// PreconditionChecker gates launches on provider-side requirements. A
// failed check returns a PreconditionError carrying a structured code so
// callers can branch without string-matching messages.
type PreconditionChecker interface {
	CheckLaunch(ctx context.Context, req LaunchRequest) error
}

// LaunchRequest describes a session to launch.
type LaunchRequest struct {
	AgentID    string `json:"agent_id"`
	ProjectID  string `json:"project_id"`
	EpicID     string `json:"epic_id,omitempty"`
	Command    string `json:"command,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`
}

// EventContext is the ambient identity a restart request arrives with when
// triggered from an agent event rather than an explicit target.
type EventContext struct {
	AgentID string `json:"agent_id"`
}

// RestartRequest targets an agent for restart. Resolution order: a
// non-blank AgentName wins; otherwise the event-derived identity is used.
// LegacyAgentID is accepted on the wire but deliberately ignored.
type RestartRequest struct {
	AgentName     string        `json:"agent_name,omitempty"`
	LegacyAgentID string        `json:"agent_id,omitempty"`
	Event         *EventContext `json:"event,omitempty"`
	ProjectID     string        `json:"project_id"`
}

// RestartResult reports the outcome of a restart.
type RestartResult struct {
	Session           *Session `json:"session"`
	PreviousSessionID string   `json:"previous_session_id,omitempty"`

	// TerminateWarning is set when tearing down the previous session
	// partially failed but the new session still launched.
	TerminateWarning string `json:"terminate_warning,omitempty"`
	Summary          string `json:"summary"`
}

// Service is the only path by which sessions are created and destroyed. It
// composes the registry and the lock coordinator; every mutation for an
// agent runs inside that agent's lock exactly once.
type Service struct {
	registry  *Registry
	locks     *LockCoordinator
	runtime   Runtime
	agents    AgentDirectory
	preflight PreconditionChecker
	bus       bus.EventBus
	config    config.SessionConfig
	logger    *logger.Logger

	handleMu sync.Mutex
	handles  map[string]Handle // sessionID -> live terminal handle
}

// NewService creates the session lifecycle service. preflight and eventBus
// may be nil.
func NewService(
	registry *Registry,
	locks *LockCoordinator,
	runtime Runtime,
	agents AgentDirectory,
	preflight PreconditionChecker,
	eventBus bus.EventBus,
	cfg config.SessionConfig,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		registry:  registry,
		locks:     locks,
		runtime:   runtime,
		agents:    agents,
		preflight: preflight,
		bus:       eventBus,
		config:    cfg,
		logger:    log.WithFields(zap.String("component", "session-service")),
		handles:   make(map[string]Handle),
	}
}

// Launch starts a new session for an agent. Fails with a ConflictError when
// the agent already has a running session; two concurrent launches for the
// same agent can never both succeed.
func (s *Service) Launch(ctx context.Context, req LaunchRequest) (*Session, error) {
	if req.AgentID == "" {
		return nil, apperrors.Validation("agent_id", "agent id is required")
	}
	if req.ProjectID == "" {
		return nil, apperrors.Validation("project_id", "project id is required")
	}

	var sess *Session
	err := s.locks.WithAgentLock(ctx, req.AgentID, func(ctx context.Context) error {
		var err error
		sess, err = s.launchLocked(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Terminate ends a session and tears down its terminal. Terminating a
// session that no longer exists is a no-op, not an error.
func (s *Service) Terminate(ctx context.Context, sessionID string) error {
	sess := s.registry.Get(sessionID)
	if sess == nil {
		// Already ended or never existed.
		return nil
	}

	return s.locks.WithAgentLock(ctx, sess.AgentID, func(ctx context.Context) error {
		_, err := s.terminateLocked(ctx, sessionID)
		return err
	})
}

// Restart terminates the agent's current session, if any, and launches a
// new one, as a single pass through the lock coordinator. It must never
// call Launch or Terminate, which acquire the non-reentrant lock
// themselves; it calls the lock-free helpers inside one critical section.
func (s *Service) Restart(ctx context.Context, req RestartRequest) (*RestartResult, error) {
	target, err := s.resolveRestartTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &RestartResult{}
	err = s.locks.WithAgentLock(ctx, target.ID, func(ctx context.Context) error {
		active := s.registry.ListActiveSessions(target.ID)
		if len(active) > 0 {
			prev := active[0]
			result.PreviousSessionID = prev.ID
			warning, err := s.terminateLocked(ctx, prev.ID)
			if err != nil {
				return err
			}
			result.TerminateWarning = warning
		}

		// EpicID is intentionally dropped: a restarted session is ad hoc,
		// not bound to the task context the old one carried.
		sess, err := s.launchLocked(ctx, LaunchRequest{
			AgentID:   target.ID,
			ProjectID: target.ProjectID,
		})
		if err != nil {
			return err
		}
		result.Session = sess
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to restart agent: %w", err)
	}

	if result.PreviousSessionID != "" {
		result.Summary = fmt.Sprintf("terminated %s, launched %s", result.PreviousSessionID, result.Session.ID)
	} else {
		result.Summary = fmt.Sprintf("launched %s", result.Session.ID)
	}
	return result, nil
}

// resolveRestartTarget picks the agent a restart acts on. An explicit,
// non-blank name takes priority over the event-derived identity; the legacy
// direct-id field is ignored even when set. Event-derived identities are
// checked against the expected project before anything mutates.
func (s *Service) resolveRestartTarget(ctx context.Context, req RestartRequest) (*agent.Agent, error) {
	name := strings.TrimSpace(req.AgentName)
	if name != "" {
		a, err := s.agents.GetByName(ctx, req.ProjectID, name)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, apperrors.NotFound("agent", name)
		}
		return a, nil
	}

	if req.Event != nil && req.Event.AgentID != "" {
		a, err := s.agents.Get(ctx, req.Event.AgentID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, apperrors.NotFound("agent", req.Event.AgentID)
		}
		if a.ProjectID != req.ProjectID {
			return nil, apperrors.Refusal(
				"refusing to act across project boundaries: agent %q belongs to project %q, not %q",
				a.Name, a.ProjectID, req.ProjectID)
		}
		return a, nil
	}

	return nil, apperrors.Validation("agent", "no agent specified")
}

// launchLocked creates and registers a new session. Caller must hold the
// agent's lock.
func (s *Service) launchLocked(ctx context.Context, req LaunchRequest) (*Session, error) {
	if active := s.registry.ListActiveSessions(req.AgentID); len(active) > 0 {
		return nil, apperrors.SessionConflict(req.AgentID, active[0].ID)
	}

	if s.preflight != nil {
		if err := s.preflight.CheckLaunch(ctx, req); err != nil {
			return nil, err
		}
	}

	command := req.Command
	if command == "" {
		command = s.config.DefaultCommand
	}

	sess := &Session{
		ID:        uuid.New().String(),
		AgentID:   req.AgentID,
		ProjectID: req.ProjectID,
		EpicID:    req.EpicID,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	handle, err := s.runtime.Start(ctx, LaunchSpec{
		SessionID:  sess.ID,
		AgentID:    req.AgentID,
		Command:    command,
		WorkingDir: req.WorkingDir,
		Cols:       uint16(s.config.TermCols),
		Rows:       uint16(s.config.TermRows),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start session terminal: %w", err)
	}
	sess.TmuxSessionID = handle.ID()

	if err := s.registry.Register(ctx, sess); err != nil {
		if stopErr := handle.Stop(ctx); stopErr != nil {
			s.logger.Warn("failed to stop terminal after register failure",
				zap.String("session_id", sess.ID), zap.Error(stopErr))
		}
		return nil, err
	}

	s.handleMu.Lock()
	s.handles[sess.ID] = handle
	s.handleMu.Unlock()

	s.logger.WithAgentID(sess.AgentID).Info("Session launched",
		zap.String("session_id", sess.ID),
		zap.String("project_id", sess.ProjectID))
	s.publishSessionEvent(ctx, bus.SubjectSessionStarted, sess)
	return sess, nil
}

// terminateLocked tears down a session's terminal and ends the registry
// entry. Caller must hold the agent's lock. A terminal teardown failure is
// returned as a warning, not an error: the session is ended regardless so
// the agent is never wedged by a half-dead process.
func (s *Service) terminateLocked(ctx context.Context, sessionID string) (string, error) {
	sess := s.registry.Get(sessionID)
	if sess == nil {
		return "", nil
	}

	var warning string
	s.handleMu.Lock()
	handle := s.handles[sessionID]
	delete(s.handles, sessionID)
	s.handleMu.Unlock()

	if handle != nil {
		if err := handle.Stop(ctx); err != nil {
			warning = fmt.Sprintf("failed to stop terminal for session %s: %v", sessionID, err)
			s.logger.Warn("terminal teardown failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	if err := s.registry.End(ctx, sessionID); err != nil {
		return warning, err
	}

	s.publishSessionEvent(ctx, bus.SubjectSessionEnded, sess)
	return warning, nil
}

// ListActiveSessions returns the running sessions for an agent.
func (s *Service) ListActiveSessions(agentID string) []*Session {
	return s.registry.ListActiveSessions(agentID)
}

// Sessions returns every active session.
func (s *Service) Sessions() []*Session {
	return s.registry.Snapshot()
}

// Reconcile repairs the registry against reality at boot. Sessions whose
// terminal still exists are re-attached; the rest are ended. Orphaned
// containers left behind by a previous run are removed.
func (s *Service) Reconcile(ctx context.Context) error {
	if err := s.registry.Restore(ctx); err != nil {
		return err
	}

	attacher, _ := s.runtime.(interface {
		Attach(ctx context.Context, handleID string) (Handle, error)
	})

	live := make(map[string]bool)
	for _, sess := range s.registry.Snapshot() {
		if attacher != nil && sess.TmuxSessionID != "" {
			handle, err := attacher.Attach(ctx, sess.TmuxSessionID)
			if err == nil {
				s.handleMu.Lock()
				s.handles[sess.ID] = handle
				s.handleMu.Unlock()
				live[sess.TmuxSessionID] = true
				continue
			}
		}

		s.logger.Info("ending orphaned session", zap.String("session_id", sess.ID))
		if err := s.registry.End(ctx, sess.ID); err != nil {
			return err
		}
		s.publishSessionEvent(ctx, bus.SubjectSessionEnded, sess)
	}

	if reaper, ok := s.runtime.(*DockerRuntime); ok {
		if err := reaper.ReapOrphans(ctx, live); err != nil {
			s.logger.Warn("failed to reap orphaned containers", zap.Error(err))
		}
	}
	return nil
}

// Shutdown terminates every active session. Used during graceful shutdown.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, sess := range s.registry.Snapshot() {
		if err := s.Terminate(ctx, sess.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publishSessionEvent(ctx context.Context, subject string, sess *Session) {
	if s.bus == nil {
		return
	}
	event := bus.NewEvent(subject, "session-service", map[string]any{
		"session_id": sess.ID,
		"agent_id":   sess.AgentID,
		"project_id": sess.ProjectID,
	})
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		s.logger.Warn("failed to publish session event", zap.String("subject", subject), zap.Error(err))
	}

	presence := bus.NewEvent(bus.SubjectPresenceChanged, "session-service", map[string]any{
		"agent_id": sess.AgentID,
	})
	if err := s.bus.Publish(ctx, bus.SubjectPresenceChanged, presence); err != nil {
		s.logger.Warn("failed to publish presence event", zap.Error(err))
	}
}
