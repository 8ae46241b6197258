package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/events/bus"
	"github.com/TwiTech-LAB/devchain/pkg/ws"
)

// EventBroadcaster relays coordinator bus events to WebSocket clients.
// Session and presence events reach every client so the dashboard can update
// agent status pills; worktree events additionally go to the clients
// subscribed to that worktree.
type EventBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterEventNotifications wires bus subjects to WebSocket notifications.
func RegisterEventNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *EventBroadcaster {
	b := &EventBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-event-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribeBroadcast(eventBus, "session.*")
	b.subscribeBroadcast(eventBus, bus.SubjectPresenceChanged)
	b.subscribeWorktree(eventBus, "worktree.*")

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close tears down all bus subscriptions.
func (b *EventBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// subscribeBroadcast relays a subject to every connected client. The bus
// subject doubles as the notification action.
func (b *EventBroadcaster) subscribeBroadcast(eventBus bus.EventBus, subject string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(event.Type, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification",
				zap.String("subject", event.Type), zap.Error(err))
			return nil
		}
		b.hub.Broadcast(msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

// subscribeWorktree relays worktree events to all clients and, when the event
// names a worktree, to its subscribers as an activity notification.
func (b *EventBroadcaster) subscribeWorktree(eventBus bus.EventBus, subject string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		msg, err := ws.NewNotification(event.Type, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification",
				zap.String("subject", event.Type), zap.Error(err))
			return nil
		}
		b.hub.Broadcast(msg)

		if name := extractWorktreeName(event.Data); name != "" {
			activity, err := ws.NewNotification(ws.ActionWorktreeActivity, event.Data)
			if err != nil {
				return nil
			}
			b.hub.BroadcastToWorktree(name, activity)
		}
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to worktree events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func extractWorktreeName(data map[string]any) string {
	if data == nil {
		return ""
	}
	if name, ok := data["worktree_name"].(string); ok {
		return name
	}
	return ""
}
