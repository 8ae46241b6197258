package session

import "context"

// RuntimeType identifies how a session's terminal is hosted.
type RuntimeType string

const (
	RuntimeProcess   RuntimeType = "process"
	RuntimeContainer RuntimeType = "container"
)

// LaunchSpec describes the terminal a runtime should start for a session.
type LaunchSpec struct {
	SessionID  string
	AgentID    string
	Command    string
	WorkingDir string
	Env        []string
	Image      string // container runtime only
	Cols       uint16
	Rows       uint16
}

// Handle is a live terminal started by a Runtime. ID is stable across the
// session's lifetime and is recorded as the session's TmuxSessionID.
type Handle interface {
	ID() string
	Stop(ctx context.Context) error
}

// Runtime starts agent terminals. Implementations must be safe for
// concurrent use.
type Runtime interface {
	Type() RuntimeType
	Start(ctx context.Context, spec LaunchSpec) (Handle, error)
}
