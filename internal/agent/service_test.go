package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TwiTech-LAB/devchain/internal/common/errors"
	"github.com/TwiTech-LAB/devchain/internal/db"
)

type stubGuard struct {
	activeAgents map[string]bool
}

func (g *stubGuard) HasActiveSession(agentID string) bool {
	return g.activeAgents[agentID]
}

func newTestService(t *testing.T, guard SessionGuard) *Service {
	t.Helper()
	conn, err := db.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store, err := NewSQLStore(conn)
	require.NoError(t, err)
	return NewService(store, guard, nil)
}

func TestCreateAndLookupByName(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, &Agent{ProjectID: "proj-1", Name: "Alice"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := svc.GetByName(ctx, "proj-1", "ALICE")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = svc.GetByName(ctx, "proj-1", "Mallory")
	require.Error(t, err)
	var notFound *apperrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, err.Error(), "Mallory")
}

func TestCreateRejectsDuplicateNameCaseInsensitive(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, &Agent{ProjectID: "proj-1", Name: "Alice"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, &Agent{ProjectID: "proj-1", Name: "alice"})
	require.Error(t, err)
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)

	// Same name in another project is fine.
	_, err = svc.Create(ctx, &Agent{ProjectID: "proj-2", Name: "Alice"})
	assert.NoError(t, err)
}

func TestDeleteRefusedWhileSessionActive(t *testing.T) {
	guard := &stubGuard{activeAgents: map[string]bool{}}
	svc := newTestService(t, guard)
	ctx := context.Background()

	created, err := svc.Create(ctx, &Agent{ProjectID: "proj-1", Name: "Alice"})
	require.NoError(t, err)

	guard.activeAgents[created.ID] = true
	err = svc.Delete(ctx, created.ID)
	require.Error(t, err)
	var conflict *apperrors.ConflictError
	assert.ErrorAs(t, err, &conflict)

	guard.activeAgents[created.ID] = false
	require.NoError(t, svc.Delete(ctx, created.ID))

	_, err = svc.Get(ctx, created.ID)
	require.Error(t, err)

	// Deleting an agent that is already gone is a no-op.
	assert.NoError(t, svc.Delete(ctx, created.ID))
}
