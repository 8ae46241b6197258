package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TwiTech-LAB/devchain/internal/agent"
	"github.com/TwiTech-LAB/devchain/internal/common/config"
	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
)

type fakeRuntime struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
	stopErr  error
	lastSpec LaunchSpec
}

func (f *fakeRuntime) Type() RuntimeType { return RuntimeProcess }

func (f *fakeRuntime) Start(ctx context.Context, spec LaunchSpec) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started++
	f.lastSpec = spec
	return &fakeHandle{id: fmt.Sprintf("term-%s", spec.SessionID), rt: f}, nil
}

func (f *fakeRuntime) spec() LaunchSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSpec
}

func (f *fakeRuntime) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeRuntime) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeHandle struct {
	id string
	rt *fakeRuntime
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.rt.mu.Lock()
	defer h.rt.mu.Unlock()
	h.rt.stopped++
	return h.rt.stopErr
}

type stubDirectory struct {
	agents map[string]*agent.Agent
}

func (d *stubDirectory) Get(ctx context.Context, id string) (*agent.Agent, error) {
	return d.agents[id], nil
}

func (d *stubDirectory) GetByName(ctx context.Context, projectID, name string) (*agent.Agent, error) {
	for _, a := range d.agents {
		if a.ProjectID == projectID && strings.EqualFold(a.Name, name) {
			return a, nil
		}
	}
	return nil, nil
}

func newTestService(t *testing.T, rt *fakeRuntime) *Service {
	t.Helper()
	dir := &stubDirectory{agents: map[string]*agent.Agent{
		"agent-1": {ID: "agent-1", ProjectID: "proj-1", Name: "Alice"},
		"agent-2": {ID: "agent-2", ProjectID: "proj-2", Name: "Bob"},
	}}
	registry := NewRegistry(nil, nil)
	return NewService(registry, NewLockCoordinator(), rt, dir, nil, nil,
		config.SessionConfig{DefaultCommand: "agent-shell", TermCols: 80, TermRows: 24}, nil)
}

func TestLaunchAndTerminate(t *testing.T) {
	rt := &fakeRuntime{}
	svc := newTestService(t, rt)
	ctx := context.Background()

	sess, err := svc.Launch(ctx, LaunchRequest{AgentID: "agent-1", ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, sess.Status)
	assert.Equal(t, "term-"+sess.ID, sess.TmuxSessionID)

	active := svc.ListActiveSessions("agent-1")
	require.Len(t, active, 1)
	assert.Equal(t, sess.ID, active[0].ID)

	require.NoError(t, svc.Terminate(ctx, sess.ID))
	assert.Empty(t, svc.ListActiveSessions("agent-1"))
	assert.Equal(t, 1, rt.stopCount())
}

func TestLaunchRefusedByGatedProvider(t *testing.T) {
	rt := &fakeRuntime{}
	dir := &stubDirectory{agents: map[string]*agent.Agent{
		"agent-1": {ID: "agent-1", ProjectID: "proj-1", Name: "Alice", ProfileID: "claude"},
		"agent-2": {ID: "agent-2", ProjectID: "proj-1", Name: "Bob", ProfileID: "codex"},
	}}
	cfg := config.SessionConfig{
		DefaultCommand: "agent-shell",
		TermCols:       80,
		TermRows:       24,
		GatedProviders: []config.GatedProvider{
			{ProfileID: "claude", Name: "Claude", Code: "auto_compact_enabled"},
		},
	}
	svc := NewService(NewRegistry(nil, nil), NewLockCoordinator(), rt, dir,
		NewProviderGates(cfg, dir), nil, cfg, nil)
	ctx := context.Background()

	_, err := svc.Launch(ctx, LaunchRequest{AgentID: "agent-1", ProjectID: "proj-1"})
	var precondition *apperrors.PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, "auto_compact_enabled", precondition.Code)
	assert.Equal(t, "claude", precondition.ProviderID)
	assert.Equal(t, "Claude", precondition.ProviderName)
	assert.Zero(t, rt.startCount(), "a gated launch must not start a terminal")

	sess, err := svc.Launch(ctx, LaunchRequest{AgentID: "agent-2", ProjectID: "proj-1"})
	require.NoError(t, err, "ungated providers launch normally")
	assert.Equal(t, StatusRunning, sess.Status)
}

func TestLaunchSizesTerminalFromConfig(t *testing.T) {
	rt := &fakeRuntime{}
	svc := newTestService(t, rt)

	_, err := svc.Launch(context.Background(), LaunchRequest{AgentID: "agent-1", ProjectID: "proj-1"})
	require.NoError(t, err)

	spec := rt.spec()
	assert.Equal(t, uint16(80), spec.Cols)
	assert.Equal(t, uint16(24), spec.Rows)
	assert.Equal(t, "agent-shell", spec.Command)
}

func TestConcurrentLaunchSingleWinner(t *testing.T) {
	rt := &fakeRuntime{}
	svc := newTestService(t, rt)

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Launch(context.Background(), LaunchRequest{AgentID: "agent-1", ProjectID: "proj-1"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, conflicts := 0, 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var conflictErr *apperrors.ConflictError
		require.ErrorAs(t, err, &conflictErr)
		conflicts++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Len(t, svc.ListActiveSessions("agent-1"), 1)
}

func TestTerminateIdempotent(t *testing.T) {
	rt := &fakeRuntime{}
	svc := newTestService(t, rt)
	ctx := context.Background()

	sess, err := svc.Launch(ctx, LaunchRequest{AgentID: "agent-1", ProjectID: "proj-1"})
	require.NoError(t, err)

	require.NoError(t, svc.Terminate(ctx, sess.ID))
	require.NoError(t, svc.Terminate(ctx, sess.ID), "second terminate must be a no-op")
	require.NoError(t, svc.Terminate(ctx, "never-existed"))
	assert.Equal(t, 1, rt.stopCount())
}

func TestRestartCompletesWithoutDeadlock(t *testing.T) {
	rt := &fakeRuntime{}
	svc := newTestService(t, rt)
	ctx := context.Background()

	s1, err := svc.Launch(ctx, LaunchRequest{AgentID: "agent-1", ProjectID: "proj-1", EpicID: "epic-9"})
	require.NoError(t, err)

	done := make(chan *RestartResult, 1)
	errc := make(chan error, 1)
	go func() {
		result, err := svc.Restart(ctx, RestartRequest{AgentName: "Alice", ProjectID: "proj-1"})
		if err != nil {
			errc <- err
			return
		}
		done <- result
	}()

	var result *RestartResult
	select {
	case result = <-done:
	case err := <-errc:
		t.Fatalf("restart failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("restart deadlocked")
	}

	assert.Equal(t, s1.ID, result.PreviousSessionID)
	require.NotNil(t, result.Session)
	assert.NotEqual(t, s1.ID, result.Session.ID)
	assert.Empty(t, result.Session.EpicID, "restarted session is ad hoc, not bound to the old epic")
	assert.Equal(t, fmt.Sprintf("terminated %s, launched %s", s1.ID, result.Session.ID), result.Summary)

	active := svc.ListActiveSessions("agent-1")
	require.Len(t, active, 1)
	assert.Equal(t, result.Session.ID, active[0].ID)
}

func TestRestartWithoutPreviousSession(t *testing.T) {
	svc := newTestService(t, &fakeRuntime{})

	result, err := svc.Restart(context.Background(), RestartRequest{AgentName: "Alice", ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Empty(t, result.PreviousSessionID)
	assert.Empty(t, result.TerminateWarning)
	assert.Equal(t, "launched "+result.Session.ID, result.Summary)
}

func TestRestartCrossProjectRefusal(t *testing.T) {
	rt := &fakeRuntime{}
	svc := newTestService(t, rt)

	_, err := svc.Restart(context.Background(), RestartRequest{
		Event:     &EventContext{AgentID: "agent-2"}, // belongs to proj-2
		ProjectID: "proj-1",
	})
	require.Error(t, err)

	var refusal *apperrors.RefusalError
	require.ErrorAs(t, err, &refusal)
	assert.Contains(t, err.Error(), "refusing to act across project boundaries")
	assert.Zero(t, rt.startCount(), "refusal must happen before any launch")
	assert.Zero(t, rt.stopCount(), "refusal must happen before any terminate")
}

func TestRestartTargetResolution(t *testing.T) {
	svc := newTestService(t, &fakeRuntime{})
	ctx := context.Background()

	t.Run("explicit name wins over event identity", func(t *testing.T) {
		result, err := svc.Restart(ctx, RestartRequest{
			AgentName: "alice", // case-insensitive
			Event:     &EventContext{AgentID: "agent-2"},
			ProjectID: "proj-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "agent-1", result.Session.AgentID)
	})

	t.Run("blank name falls back to event identity", func(t *testing.T) {
		result, err := svc.Restart(ctx, RestartRequest{
			AgentName: "   ",
			Event:     &EventContext{AgentID: "agent-1"},
			ProjectID: "proj-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "agent-1", result.Session.AgentID)
	})

	t.Run("legacy direct id is ignored", func(t *testing.T) {
		_, err := svc.Restart(ctx, RestartRequest{
			LegacyAgentID: "agent-1",
			ProjectID:     "proj-1",
		})
		require.Error(t, err)
		var validation *apperrors.ValidationError
		assert.ErrorAs(t, err, &validation)
		assert.Contains(t, err.Error(), "no agent specified")
	})

	t.Run("unknown name surfaces the searched value", func(t *testing.T) {
		_, err := svc.Restart(ctx, RestartRequest{AgentName: "Mallory", ProjectID: "proj-1"})
		require.Error(t, err)
		var notFound *apperrors.NotFoundError
		assert.ErrorAs(t, err, &notFound)
		assert.Contains(t, err.Error(), "Mallory")
	})
}

func TestRestartReportsTerminateWarning(t *testing.T) {
	rt := &fakeRuntime{stopErr: errors.New("process already gone")}
	svc := newTestService(t, rt)
	ctx := context.Background()

	s1, err := svc.Launch(ctx, LaunchRequest{AgentID: "agent-1", ProjectID: "proj-1"})
	require.NoError(t, err)

	result, err := svc.Restart(ctx, RestartRequest{AgentName: "Alice", ProjectID: "proj-1"})
	require.NoError(t, err, "restart succeeds despite teardown failure")
	assert.Contains(t, result.TerminateWarning, s1.ID)
	assert.Contains(t, result.TerminateWarning, "process already gone")

	active := svc.ListActiveSessions("agent-1")
	require.Len(t, active, 1)
	assert.Equal(t, result.Session.ID, active[0].ID)
}

func TestRestartWrapsLaunchFailure(t *testing.T) {
	rt := &fakeRuntime{}
	svc := newTestService(t, rt)
	ctx := context.Background()

	_, err := svc.Launch(ctx, LaunchRequest{AgentID: "agent-1", ProjectID: "proj-1"})
	require.NoError(t, err)

	rt.mu.Lock()
	rt.startErr = errors.New("image pull failed")
	rt.mu.Unlock()

	_, err = svc.Restart(ctx, RestartRequest{AgentName: "Alice", ProjectID: "proj-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to restart agent:")
	assert.Contains(t, err.Error(), "image pull failed")
}

type stubPreflight struct {
	err error
}

func (p *stubPreflight) CheckLaunch(ctx context.Context, req LaunchRequest) error {
	return p.err
}

func TestLaunchPreconditionError(t *testing.T) {
	rt := &fakeRuntime{}
	svc := newTestService(t, rt)
	svc.preflight = &stubPreflight{err: &apperrors.PreconditionError{
		Code:         "auto_compact_enabled",
		ProviderID:   "prov-1",
		ProviderName: "claude",
	}}

	_, err := svc.Launch(context.Background(), LaunchRequest{AgentID: "agent-1", ProjectID: "proj-1"})
	require.Error(t, err)

	var precondition *apperrors.PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, "auto_compact_enabled", precondition.Code)
	assert.Zero(t, rt.startCount())
}
