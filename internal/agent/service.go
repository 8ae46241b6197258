package agent

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
)

// SessionGuard reports whether an agent currently has a running session.
// Implemented by the session registry.
type SessionGuard interface {
	HasActiveSession(agentID string) bool
}

// Service manages agent CRUD with the coordinator-side safety checks.
type Service struct {
	store    Store
	sessions SessionGuard
	logger   *logger.Logger
}

// NewService creates the agent service. sessions may be nil in tests that
// do not exercise the delete guard.
func NewService(store Store, sessions SessionGuard, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		store:    store,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "agent-service")),
	}
}

// Create registers a new agent in the project. Names are unique per project
// case-insensitively.
func (s *Service) Create(ctx context.Context, a *Agent) (*Agent, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return nil, apperrors.Validation("name", "agent name is required")
	}
	if a.ProjectID == "" {
		return nil, apperrors.Validation("project_id", "project id is required")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	existing, err := s.store.GetByName(ctx, a.ProjectID, a.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Validation("name", "agent name already in use in this project")
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("agent created", zap.String("agent_id", a.ID), zap.String("name", a.Name))
	return a, nil
}

// Get retrieves an agent by ID.
func (s *Service) Get(ctx context.Context, id string) (*Agent, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperrors.NotFound("agent", id)
	}
	return a, nil
}

// GetByName retrieves an agent by name within a project. The searched name
// is surfaced in the not-found error.
func (s *Service) GetByName(ctx context.Context, projectID, name string) (*Agent, error) {
	a, err := s.store.GetByName(ctx, projectID, name)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperrors.NotFound("agent", name)
	}
	return a, nil
}

// List returns all agents in a project.
func (s *Service) List(ctx context.Context, projectID string) ([]*Agent, error) {
	return s.store.List(ctx, projectID)
}

// Update persists changes to an agent.
func (s *Service) Update(ctx context.Context, a *Agent) (*Agent, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return nil, apperrors.Validation("name", "agent name is required")
	}

	existing, err := s.store.GetByName(ctx, a.ProjectID, a.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID != a.ID {
		return nil, apperrors.Validation("name", "agent name already in use in this project")
	}

	if err := s.store.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes an agent. Refused while the agent has a running session;
// the caller must terminate the session first.
func (s *Service) Delete(ctx context.Context, id string) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return nil
	}

	if s.sessions != nil && s.sessions.HasActiveSession(id) {
		return apperrors.Conflict("agent has an active session; terminate it before deleting")
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("agent deleted", zap.String("agent_id", id), zap.String("name", a.Name))
	return nil
}
