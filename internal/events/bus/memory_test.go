package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TwiTech-LAB/devchain/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))

	if bus == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := bus.Subscribe(SubjectSessionStarted, func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event := NewEvent(SubjectSessionStarted, "coordinator", map[string]any{"agent_id": "agent-1"})
	if err := bus.Publish(ctx, SubjectSessionStarted, event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, e.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestMemoryEventBus_WildcardSubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count atomic.Int32

	sub, err := bus.Subscribe("worktree.*", func(ctx context.Context, event *Event) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for _, subject := range []string{SubjectWorktreeCreated, SubjectWorktreeMerged, SubjectSessionEnded} {
		if err := bus.Publish(ctx, subject, NewEvent(subject, "coordinator", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	deadline := time.After(time.Second)
	for count.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("Expected 2 deliveries, got %d", count.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// session.ended must not match worktree.*
	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got != 2 {
		t.Errorf("Expected 2 deliveries, got %d", got)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	defer bus.Close()

	ctx := context.Background()
	var count atomic.Int32

	sub, err := bus.Subscribe(SubjectPresenceChanged, func(ctx context.Context, event *Event) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !sub.IsValid() {
		t.Error("Expected subscription to be valid")
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}

	if err := bus.Publish(ctx, SubjectPresenceChanged, NewEvent(SubjectPresenceChanged, "coordinator", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("Expected 0 deliveries after unsubscribe, got %d", got)
	}
}

func TestMemoryEventBus_ClosedBusRejectsPublish(t *testing.T) {
	bus := NewMemoryEventBus(newTestLogger(t))
	bus.Close()

	if bus.IsConnected() {
		t.Error("Expected bus to report disconnected after close")
	}
	if err := bus.Publish(context.Background(), SubjectSessionStarted, NewEvent(SubjectSessionStarted, "coordinator", nil)); err == nil {
		t.Error("Expected publish on closed bus to fail")
	}
}
