package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store is the interface for agent persistence.
type Store interface {
	// Create persists a new agent. Fails when the name is already taken
	// within the project (case-insensitive).
	Create(ctx context.Context, a *Agent) error
	// Get retrieves an agent by ID. Returns nil, nil when absent.
	Get(ctx context.Context, id string) (*Agent, error)
	// GetByName retrieves an agent by name within a project, compared
	// case-insensitively. Returns nil, nil when absent.
	GetByName(ctx context.Context, projectID, name string) (*Agent, error)
	// List returns all agents in a project ordered by name.
	List(ctx context.Context, projectID string) ([]*Agent, error)
	// Update persists changes to an existing agent.
	Update(ctx context.Context, a *Agent) error
	// Delete removes an agent.
	Delete(ctx context.Context, id string) error
}

// SQLStore implements Store on a sqlx connection (sqlite or postgres).
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates an agent store and ensures the agents table exists.
func NewSQLStore(db *sqlx.DB) (*SQLStore, error) {
	store := &SQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize agent schema: %w", err)
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		profile_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_project_name
		ON agents(project_id, LOWER(name));
	`

	_, err := s.db.Exec(schema)
	return err
}

// Create persists a new agent.
func (s *SQLStore) Create(ctx context.Context, a *Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent ID is required")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agents (id, project_id, profile_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.ProjectID, a.ProfileID, a.Name, a.Description, a.CreatedAt, a.UpdatedAt)
	return err
}

// Get retrieves an agent by ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*Agent, error) {
	a := &Agent{}
	err := s.db.GetContext(ctx, a, s.db.Rebind(`
		SELECT id, project_id, profile_id, name, description, created_at, updated_at
		FROM agents WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByName retrieves an agent by name within a project, case-insensitively.
func (s *SQLStore) GetByName(ctx context.Context, projectID, name string) (*Agent, error) {
	a := &Agent{}
	err := s.db.GetContext(ctx, a, s.db.Rebind(`
		SELECT id, project_id, profile_id, name, description, created_at, updated_at
		FROM agents WHERE project_id = ? AND LOWER(name) = LOWER(?)
	`), projectID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// List returns all agents in a project ordered by name.
func (s *SQLStore) List(ctx context.Context, projectID string) ([]*Agent, error) {
	agents := []*Agent{}
	err := s.db.SelectContext(ctx, &agents, s.db.Rebind(`
		SELECT id, project_id, profile_id, name, description, created_at, updated_at
		FROM agents WHERE project_id = ?
		ORDER BY LOWER(name)
	`), projectID)
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// Update persists changes to an existing agent.
func (s *SQLStore) Update(ctx context.Context, a *Agent) error {
	a.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE agents SET profile_id = ?, name = ?, description = ?, updated_at = ?
		WHERE id = ?
	`), a.ProfileID, a.Name, a.Description, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("agent not found: %s", a.ID)
	}
	return nil
}

// Delete removes an agent.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM agents WHERE id = ?`), id)
	return err
}

// Provide creates the agent store.
func Provide(db *sqlx.DB) (*SQLStore, func() error, error) {
	store, err := NewSQLStore(db)
	if err != nil {
		return nil, nil, err
	}
	return store, func() error { return nil }, nil
}
