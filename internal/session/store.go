package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store is the interface for session persistence.
type Store interface {
	// CreateSession persists a new session record.
	CreateSession(ctx context.Context, s *Session) error
	// GetSessionByID retrieves a session by ID. Returns nil, nil when absent.
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	// EndSession marks a session ended. A no-op for sessions already ended
	// or absent.
	EndSession(ctx context.Context, id string, endedAt time.Time) error
	// ListActiveSessions returns all running sessions for an agent.
	ListActiveSessions(ctx context.Context, agentID string) ([]*Session, error)
	// ListAllActive returns every running session (used for boot reconciliation).
	ListAllActive(ctx context.Context) ([]*Session, error)
}

// SQLStore implements Store on a sqlx connection (sqlite or postgres).
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a session store and ensures the sessions table exists.
func NewSQLStore(db *sqlx.DB) (*SQLStore, error) {
	store := &SQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		epic_id TEXT NOT NULL DEFAULT '',
		tmux_session_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_agent_sessions_agent_id ON agent_sessions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_status ON agent_sessions(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSession persists a new session record.
func (s *SQLStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	if sess.Status == "" {
		sess.Status = StatusRunning
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agent_sessions (
			id, agent_id, project_id, epic_id, tmux_session_id,
			status, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), sess.ID, sess.AgentID, sess.ProjectID, sess.EpicID, sess.TmuxSessionID,
		sess.Status, sess.StartedAt, sess.EndedAt)

	return err
}

// GetSessionByID retrieves a session by ID.
func (s *SQLStore) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	sess := &Session{}
	err := s.db.GetContext(ctx, sess, s.db.Rebind(`
		SELECT id, agent_id, project_id, epic_id, tmux_session_id,
		       status, started_at, ended_at
		FROM agent_sessions WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// EndSession marks a session ended. Ending an ended or missing session is a
// no-op, which makes terminate idempotent at the persistence layer.
func (s *SQLStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE agent_sessions SET status = ?, ended_at = ?
		WHERE id = ? AND status = ?
	`), StatusEnded, endedAt, id, StatusRunning)
	return err
}

// ListActiveSessions returns all running sessions for an agent.
func (s *SQLStore) ListActiveSessions(ctx context.Context, agentID string) ([]*Session, error) {
	sessions := []*Session{}
	err := s.db.SelectContext(ctx, &sessions, s.db.Rebind(`
		SELECT id, agent_id, project_id, epic_id, tmux_session_id,
		       status, started_at, ended_at
		FROM agent_sessions WHERE agent_id = ? AND status = ?
		ORDER BY started_at
	`), agentID, StatusRunning)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListAllActive returns every running session.
func (s *SQLStore) ListAllActive(ctx context.Context) ([]*Session, error) {
	sessions := []*Session{}
	err := s.db.SelectContext(ctx, &sessions, s.db.Rebind(`
		SELECT id, agent_id, project_id, epic_id, tmux_session_id,
		       status, started_at, ended_at
		FROM agent_sessions WHERE status = ?
		ORDER BY started_at
	`), StatusRunning)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// Provide creates the session store.
func Provide(db *sqlx.DB) (*SQLStore, func() error, error) {
	store, err := NewSQLStore(db)
	if err != nil {
		return nil, nil, err
	}
	return store, func() error { return nil }, nil
}
