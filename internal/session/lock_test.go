package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAgentLockSerializesSameAgent(t *testing.T) {
	locks := NewLockCoordinator()

	var mu sync.Mutex
	inCritical := 0
	maxInCritical := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locks.WithAgentLock(context.Background(), "agent-1", func(ctx context.Context) error {
				mu.Lock()
				inCritical++
				if inCritical > maxInCritical {
					maxInCritical = inCritical
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inCritical--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInCritical, "two operations for the same agent overlapped")
}

func TestWithAgentLockIndependentAgents(t *testing.T) {
	locks := NewLockCoordinator()

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = locks.WithAgentLock(context.Background(), "agent-a", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	// A different agent's lock must not be blocked by agent-a's.
	done := make(chan struct{})
	go func() {
		_ = locks.WithAgentLock(context.Background(), "agent-b", func(ctx context.Context) error {
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock for agent-b blocked behind agent-a")
	}
}

func TestWithAgentLockReleasesOnError(t *testing.T) {
	locks := NewLockCoordinator()
	sentinel := errors.New("boom")

	err := locks.WithAgentLock(context.Background(), "agent-1", func(ctx context.Context) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel, "error must propagate unchanged")

	// Lock must be free again after a failed operation.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = locks.WithAgentLock(ctx, "agent-1", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestWithAgentLockHonorsContextWhileWaiting(t *testing.T) {
	locks := NewLockCoordinator()

	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = locks.WithAgentLock(context.Background(), "agent-1", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := locks.WithAgentLock(ctx, "agent-1", func(ctx context.Context) error {
		t.Fatal("fn must not run when acquisition is canceled")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
