package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TwiTech-LAB/devchain/internal/db"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	conn, err := db.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store, err := NewSQLStore(conn)
	require.NoError(t, err)
	return store
}

func TestStoreSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{
		ID:            "s1",
		AgentID:       "agent-1",
		ProjectID:     "proj-1",
		EpicID:        "epic-1",
		TmuxSessionID: "term-s1",
		Status:        StatusRunning,
		StartedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.CreateSession(ctx, sess))

	got, err := store.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.EndedAt)

	active, err := store.ListActiveSessions(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	endedAt := time.Now().UTC()
	require.NoError(t, store.EndSession(ctx, "s1", endedAt))

	got, err = store.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, got.Status)
	require.NotNil(t, got.EndedAt)

	active, err = store.ListActiveSessions(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestStoreEndSessionIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{ID: "s1", AgentID: "agent-1", ProjectID: "proj-1", StartedAt: time.Now().UTC()}
	require.NoError(t, store.CreateSession(ctx, sess))

	first := time.Now().UTC()
	require.NoError(t, store.EndSession(ctx, "s1", first))

	// A second end must not move ended_at.
	require.NoError(t, store.EndSession(ctx, "s1", first.Add(time.Hour)))
	got, err := store.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.WithinDuration(t, first, *got.EndedAt, time.Second)

	// Ending a session that never existed is a no-op.
	require.NoError(t, store.EndSession(ctx, "missing", time.Now().UTC()))
}

func TestStoreMissingSessionIsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetSessionByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRegistryRestore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, store.CreateSession(ctx, &Session{
			ID: id, AgentID: "agent-1", ProjectID: "proj-1", StartedAt: time.Now().UTC(),
		}))
	}
	require.NoError(t, store.CreateSession(ctx, &Session{
		ID: "s3", AgentID: "agent-2", ProjectID: "proj-1", StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.EndSession(ctx, "s2", time.Now().UTC()))

	registry := NewRegistry(store, nil)
	require.NoError(t, registry.Restore(ctx))

	assert.Equal(t, 2, registry.ActiveCount())
	assert.True(t, registry.HasActiveSession("agent-1"))
	assert.True(t, registry.HasActiveSession("agent-2"))
	assert.Nil(t, registry.Get("s2"))
}

func TestRegistryPresence(t *testing.T) {
	registry := NewRegistry(nil, nil)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, &Session{
		ID: "s1", AgentID: "agent-1", ProjectID: "proj-1",
		Status: StatusRunning, StartedAt: time.Now().UTC(),
	}))

	presence := registry.PresenceFor([]string{"agent-1", "agent-2"})
	require.Len(t, presence, 2)
	assert.True(t, presence[0].Online)
	assert.Equal(t, "s1", presence[0].SessionID)
	assert.False(t, presence[1].Online)
	assert.Empty(t, presence[1].SessionID)

	require.NoError(t, registry.End(ctx, "s1"))
	presence = registry.PresenceFor([]string{"agent-1"})
	assert.False(t, presence[0].Online)
}
