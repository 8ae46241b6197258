package worktree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStatus(t *testing.T) {
	for _, raw := range []string{"creating", "running", "merged", "stopped", "error", "deleted"} {
		got, err := ParseStatus(raw)
		assert.NoError(t, err)
		assert.Equal(t, Status(raw), got)
	}

	_, err := ParseStatus("active")
	assert.Error(t, err, "unknown statuses are rejected, not defaulted")
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusCreating, StatusRunning},
		{StatusCreating, StatusError},
		{StatusRunning, StatusMerged},
		{StatusRunning, StatusStopped},
		{StatusRunning, StatusError},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	forbidden := [][2]Status{
		{StatusMerged, StatusRunning},
		{StatusStopped, StatusRunning},
		{StatusError, StatusRunning},
		{StatusCreating, StatusMerged},
		{StatusRunning, StatusCreating},
	}
	for _, pair := range forbidden {
		assert.False(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestVisualStatus(t *testing.T) {
	wt := &Worktree{Status: StatusRunning}
	assert.Equal(t, VisualIdle, wt.Visual(false))

	wt.CommitsAhead = 2
	assert.Equal(t, VisualRunning, wt.Visual(false))

	wt.CommitsAhead = 0
	wt.MergeConflicts = ConflictList{{File: "main.go", Type: "content"}}
	assert.Equal(t, VisualRunning, wt.Visual(false))

	// The merging flag overrides everything.
	assert.Equal(t, VisualMerging, wt.Visual(true))
	stopped := &Worktree{Status: StatusStopped}
	assert.Equal(t, VisualMerging, stopped.Visual(true))

	assert.Equal(t, VisualStatus(StatusStopped), stopped.Visual(false))
}
