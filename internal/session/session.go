// Package session implements the agent session coordinator: the registry of
// live terminal-attached sessions, the per-agent lock serializing mutations,
// and the launch/terminate/restart lifecycle service.
package session

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusRunning is a live session attached to a terminal process.
	StatusRunning Status = "running"

	// StatusEnded is a session terminated by request or process exit.
	StatusEnded Status = "ended"
)

// ParseStatus validates a raw status string. Unrecognized values are
// rejected, never defaulted.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusRunning, StatusEnded:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("unrecognized session status: %q", raw)
	}
}

// Session represents one live terminal-attached process run for an agent.
type Session struct {
	ID        string `json:"id" db:"id"`
	AgentID   string `json:"agent_id" db:"agent_id"`
	ProjectID string `json:"project_id" db:"project_id"`

	// EpicID is the task context; empty for ad-hoc restarts.
	EpicID string `json:"epic_id,omitempty" db:"epic_id"`

	// TmuxSessionID is the handle of the underlying terminal process
	// (pty session or container id, depending on runtime).
	TmuxSessionID string `json:"tmux_session_id" db:"tmux_session_id"`

	Status    Status     `json:"status" db:"status"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Active reports whether the session is still running.
func (s *Session) Active() bool {
	return s.Status == StatusRunning
}

// Presence is the derived online view for one agent. It is recomputed from
// the registry on every session state change and never stored.
type Presence struct {
	AgentID   string `json:"agent_id"`
	Online    bool   `json:"online"`
	SessionID string `json:"session_id,omitempty"`
}
