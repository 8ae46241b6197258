package bus

// Subjects published by the coordinator. Hierarchical so subscribers can use
// wildcard patterns ("session.*", "worktree.>").
const (
	SubjectSessionStarted  = "session.started"
	SubjectSessionEnded    = "session.ended"
	SubjectPresenceChanged = "presence.changed"

	SubjectWorktreeCreated = "worktree.created"
	SubjectWorktreeRunning = "worktree.running"
	SubjectWorktreeStopped = "worktree.stopped"
	SubjectWorktreeMerged  = "worktree.merged"
	SubjectWorktreeFailed  = "worktree.failed"
	SubjectWorktreeDeleted = "worktree.deleted"
)
