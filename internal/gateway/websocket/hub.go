// Package websocket pushes coordinator events to connected dashboard clients.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/pkg/ws"
)

// ActivityProvider retrieves recent activity entries for a worktree, replayed
// to clients when they subscribe.
type ActivityProvider func(ctx context.Context, worktreeName string) ([]*ws.Message, error)

// Hub manages all WebSocket client connections
type Hub struct {
	// All registered clients
	clients map[*Client]bool

	// Clients subscribed to specific worktrees
	worktreeSubscribers map[string]map[*Client]bool

	// Channels for client management
	register   chan *Client
	unregister chan *Client

	// Channel for broadcasting notifications
	broadcast chan *ws.Message

	// Message dispatcher
	dispatcher *ws.Dispatcher

	// Optional provider for activity replay on subscription
	activityProvider ActivityProvider

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:             make(map[*Client]bool),
		worktreeSubscribers: make(map[string]map[*Client]bool),
		register:            make(chan *Client),
		unregister:          make(chan *Client),
		broadcast:           make(chan *ws.Message, 256),
		dispatcher:          dispatcher,
		logger:              log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

// closeAllClients closes all client connections
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.worktreeSubscribers = make(map[string]map[*Client]bool)
}

// removeClient removes a client from the hub
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for name := range client.subscriptions {
			if clients, ok := h.worktreeSubscribers[name]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.worktreeSubscribers, name)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// broadcastMessage sends a message to all connected clients
func (h *Hub) broadcastMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by write pump
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a notification to all connected clients
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- msg
}

// BroadcastToWorktree sends a notification to clients subscribed to a worktree
func (h *Hub) BroadcastToWorktree(name string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := h.worktreeSubscribers[name]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.send <- data:
		default:
			// Buffer full
		}
	}
}

// SubscribeToWorktree subscribes a client to worktree notifications
func (h *Hub) SubscribeToWorktree(client *Client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.worktreeSubscribers[name]; !ok {
		h.worktreeSubscribers[name] = make(map[*Client]bool)
	}
	h.worktreeSubscribers[name][client] = true
	client.subscriptions[name] = true

	h.logger.Debug("Client subscribed to worktree",
		zap.String("client_id", client.ID),
		zap.String("worktree", name))
}

// UnsubscribeFromWorktree unsubscribes a client from worktree notifications
func (h *Hub) UnsubscribeFromWorktree(client *Client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, name)
	if clients, ok := h.worktreeSubscribers[name]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.worktreeSubscribers, name)
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetDispatcher returns the message dispatcher
func (h *Hub) GetDispatcher() *ws.Dispatcher {
	return h.dispatcher
}

// SetActivityProvider sets the provider for activity replay on subscription
func (h *Hub) SetActivityProvider(provider ActivityProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activityProvider = provider
}

// GetActivity retrieves recent activity for a worktree if a provider is set
func (h *Hub) GetActivity(ctx context.Context, worktreeName string) ([]*ws.Message, error) {
	h.mu.RLock()
	provider := h.activityProvider
	h.mu.RUnlock()
	if provider == nil {
		return nil, nil
	}
	return provider(ctx, worktreeName)
}
