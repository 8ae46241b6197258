package ws

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Subscription actions
	ActionWorktreeSubscribe   = "worktree.subscribe"
	ActionWorktreeUnsubscribe = "worktree.unsubscribe"

	// Notification actions (server -> client)
	ActionPresenceChanged  = "presence.changed"
	ActionSessionStarted   = "session.started"
	ActionSessionEnded     = "session.ended"
	ActionWorktreeCreated  = "worktree.created"
	ActionWorktreeRunning  = "worktree.running"
	ActionWorktreeStopped  = "worktree.stopped"
	ActionWorktreeMerged   = "worktree.merged"
	ActionWorktreeFailed   = "worktree.failed"
	ActionWorktreeDeleted  = "worktree.deleted"
	ActionWorktreeActivity = "worktree.activity"
)

// Error codes
const (
	ErrorCodeBadRequest       = "BAD_REQUEST"
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeConflict         = "CONFLICT"
	ErrorCodePrecondition     = "PRECONDITION_FAILED"
	ErrorCodeRefusal          = "REFUSED"
	ErrorCodeValidation       = "VALIDATION_ERROR"
	ErrorCodeScopeUnavailable = "SCOPE_UNAVAILABLE"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
	ErrorCodeUnknownAction    = "UNKNOWN_ACTION"
)
