// Package agent manages the agent entities sessions are launched for.
package agent

import "time"

// Agent is a configured coding agent belonging to a project. Names are
// unique per project, compared case-insensitively.
type Agent struct {
	ID          string    `json:"id" db:"id"`
	ProjectID   string    `json:"project_id" db:"project_id"`
	ProfileID   string    `json:"profile_id,omitempty" db:"profile_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
