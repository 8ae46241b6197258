package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/session"
	"github.com/TwiTech-LAB/devchain/internal/worktree"
)

type stubResolver struct {
	worktrees map[string]*worktree.Worktree
}

func (r *stubResolver) GetByName(ctx context.Context, projectID, name string) (*worktree.Worktree, error) {
	wt, ok := r.worktrees[name]
	if !ok {
		return nil, worktree.ErrWorktreeNotFound
	}
	return wt, nil
}

type stubOps struct {
	launched   []session.LaunchRequest
	terminated []string
}

func (o *stubOps) Launch(ctx context.Context, req session.LaunchRequest) (*session.Session, error) {
	o.launched = append(o.launched, req)
	return &session.Session{ID: "s1", AgentID: req.AgentID, ProjectID: req.ProjectID}, nil
}

func (o *stubOps) Terminate(ctx context.Context, sessionID string) error {
	o.terminated = append(o.terminated, sessionID)
	return nil
}

func (o *stubOps) Restart(ctx context.Context, req session.RestartRequest) (*session.RestartResult, error) {
	return &session.RestartResult{}, nil
}

func TestResolveMainScope(t *testing.T) {
	mainOps := &stubOps{}
	router := NewScopeRouter(mainOps, "proj-main", &stubResolver{}, "localhost:8080", nil)

	for _, name := range []string{"", MainScope} {
		scope, err := router.Resolve(context.Background(), name)
		require.NoError(t, err)
		assert.Equal(t, MainScope, scope.Name)
		assert.Equal(t, "proj-main", scope.ProjectID)
		assert.Same(t, SessionOps(mainOps), scope.Ops)
	}
}

func TestResolveWorktreeScope(t *testing.T) {
	resolver := &stubResolver{worktrees: map[string]*worktree.Worktree{
		"feature-x": {
			Name:              "feature-x",
			Status:            worktree.StatusRunning,
			DevchainProjectID: "proj-inner",
		},
	}}
	router := NewScopeRouter(&stubOps{}, "proj-main", resolver, "localhost:8080", nil)

	var gotBase string
	remote := &stubOps{}
	router.newClient = func(baseURL string) SessionOps {
		gotBase = baseURL
		return remote
	}

	scope, err := router.Resolve(context.Background(), "feature-x")
	require.NoError(t, err)
	assert.Equal(t, "feature-x", scope.Name)
	assert.Equal(t, "proj-inner", scope.ProjectID)
	assert.Equal(t, "http://localhost:8080/worktrees/feature-x/api", gotBase)
	assert.Same(t, SessionOps(remote), scope.Ops)
}

func TestResolveRefusesUnresolvedWorktree(t *testing.T) {
	resolver := &stubResolver{worktrees: map[string]*worktree.Worktree{
		"no-project": {Name: "no-project", Status: worktree.StatusRunning},
		"stopped":    {Name: "stopped", Status: worktree.StatusStopped, DevchainProjectID: "p"},
	}}
	router := NewScopeRouter(&stubOps{}, "proj-main", resolver, "localhost:8080", nil)

	for _, name := range []string{"no-project", "stopped"} {
		_, err := router.Resolve(context.Background(), name)
		assert.ErrorIs(t, err, ErrScopeUnavailable, name)
	}

	_, err := router.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, worktree.ErrWorktreeNotFound)
}

func TestBusyTrackerScopeIsolation(t *testing.T) {
	tracker := NewBusyTracker()

	// The same agent id in different scopes is independent state.
	mainKey := BusyKey{Worktree: MainScope, AgentID: "agent-1"}
	wtKey := BusyKey{Worktree: "feature-x", AgentID: "agent-1"}

	require.True(t, tracker.TrySet(mainKey))
	assert.True(t, tracker.IsBusy(mainKey))
	assert.False(t, tracker.IsBusy(wtKey), "busy state must not leak across scopes")

	require.True(t, tracker.TrySet(wtKey))
	assert.False(t, tracker.TrySet(wtKey), "double-set within a scope is rejected")

	tracker.Clear(mainKey)
	assert.False(t, tracker.IsBusy(mainKey))
	assert.True(t, tracker.IsBusy(wtKey), "clearing one scope leaves the other")
}

type stubDirectory struct {
	sessions []*session.Session
}

func (d *stubDirectory) Snapshot() []*session.Session { return d.sessions }

func TestDrainerTerminatesScopeSessions(t *testing.T) {
	resolver := &stubResolver{worktrees: map[string]*worktree.Worktree{
		"feature-x": {
			Name:              "feature-x",
			Status:            worktree.StatusRunning,
			DevchainProjectID: "proj-inner",
		},
	}}
	router := NewScopeRouter(&stubOps{}, "proj-main", resolver, "localhost:8080", nil)
	remote := &stubOps{}
	router.newClient = func(baseURL string) SessionOps { return remote }

	directory := &stubDirectory{sessions: []*session.Session{
		{ID: "s1", ProjectID: "proj-inner", Status: session.StatusRunning},
		{ID: "s2", ProjectID: "proj-inner", Status: session.StatusEnded},
		{ID: "s3", ProjectID: "proj-main", Status: session.StatusRunning},
	}}
	drainer := NewDrainer(router, directory, nil)

	require.NoError(t, drainer.DrainScope(context.Background(), "feature-x"))
	assert.Equal(t, []string{"s1"}, remote.terminated, "only the scope's active sessions are drained")
}

func TestDrainerSkipsUnavailableScope(t *testing.T) {
	resolver := &stubResolver{worktrees: map[string]*worktree.Worktree{
		"stopped": {Name: "stopped", Status: worktree.StatusStopped, DevchainProjectID: "p"},
	}}
	mainOps := &stubOps{}
	router := NewScopeRouter(mainOps, "proj-main", resolver, "localhost:8080", nil)

	directory := &stubDirectory{sessions: []*session.Session{
		{ID: "s1", ProjectID: "p", Status: session.StatusRunning},
	}}
	drainer := NewDrainer(router, directory, nil)

	require.NoError(t, drainer.DrainScope(context.Background(), "stopped"))
	require.NoError(t, drainer.DrainScope(context.Background(), "missing"))
	assert.Empty(t, mainOps.terminated)
}

func TestClientDecodesTypedErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions/launch":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(apperrors.ToPayload(
				apperrors.SessionConflict("agent-1", "s-existing")))
		case "/agents/restart":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(apperrors.ToPayload(
				apperrors.Refusal("refusing to act across project boundaries")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	_, err := client.Launch(context.Background(), session.LaunchRequest{AgentID: "agent-1"})
	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "s-existing", conflict.SessionID)

	_, err = client.Restart(context.Background(), session.RestartRequest{})
	var refusal *apperrors.RefusalError
	require.ErrorAs(t, err, &refusal)
}

func TestClientRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/sessions/launch":
			var req session.LaunchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(session.Session{
				ID: "s1", AgentID: req.AgentID, ProjectID: req.ProjectID, Status: session.StatusRunning,
			})
		case "/sessions/s1/terminate":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)

	sess, err := client.Launch(context.Background(), session.LaunchRequest{AgentID: "agent-1", ProjectID: "proj-inner"})
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, session.StatusRunning, sess.Status)

	require.NoError(t, client.Terminate(context.Background(), "s1"))
}
