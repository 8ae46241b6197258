package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	agenthandlers "github.com/TwiTech-LAB/devchain/internal/agent/handlers"
	"github.com/TwiTech-LAB/devchain/internal/common/config"
	"github.com/TwiTech-LAB/devchain/internal/common/httpmw"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/events/bus"
	gateways "github.com/TwiTech-LAB/devchain/internal/gateway/websocket"
	"github.com/TwiTech-LAB/devchain/internal/proxy"
	sessionhandlers "github.com/TwiTech-LAB/devchain/internal/session/handlers"
	worktreehandlers "github.com/TwiTech-LAB/devchain/internal/worktree/handlers"
	"github.com/TwiTech-LAB/devchain/pkg/ws"
)

// provideGateway builds the WebSocket hub, wires event notifications, and
// starts the hub loop.
func provideGateway(ctx context.Context, eventBus bus.EventBus, svcs *services, log *logger.Logger) *gateways.Hub {
	dispatcher := ws.NewDispatcher()
	gateways.RegisterHealthHandler(dispatcher)

	hub := gateways.NewHub(dispatcher, log)

	// Replay recent lifecycle transitions when a client subscribes to a
	// worktree. Set before the run loop starts accepting clients.
	hub.SetActivityProvider(func(ctx context.Context, worktreeName string) ([]*ws.Message, error) {
		entries := svcs.worktreeMgr.ListActivity(50)
		var out []*ws.Message
		for _, entry := range entries {
			if entry.WorktreeName != worktreeName {
				continue
			}
			msg, err := ws.NewNotification(ws.ActionWorktreeActivity, entry)
			if err != nil {
				continue
			}
			out = append(out, msg)
		}
		return out, nil
	})

	go hub.Run(ctx)
	gateways.RegisterEventNotifications(ctx, eventBus, hub, log)

	return hub
}

// buildRouter assembles the HTTP surface: the main API group, the
// per-worktree scope groups, and the WebSocket endpoint.
func buildRouter(cfg *config.Config, svcs *services, hub *gateways.Hub, log *logger.Logger) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "devchain"))
	router.Use(httpmw.OtelTracing("devchain"))

	busy := proxy.NewBusyTracker()

	// Stopping or deleting a worktree drains its sessions first, through
	// the scope's own boundary.
	scopeRouter := proxy.NewScopeRouter(svcs.sessionSvc, cfg.Project.ID, svcs.worktreeMgr, loopbackAddr(cfg.Server), log)
	drainer := proxy.NewDrainer(scopeRouter, svcs.registry, log)

	api := router.Group("/api/v1", proxy.MainScopeMiddleware(cfg.Project.ID))
	sessionhandlers.RegisterSessionRoutes(api, svcs.sessionSvc, busy, log)
	agenthandlers.RegisterAgentRoutes(api, svcs.agentSvc, svcs.registry, log)
	worktreehandlers.RegisterWorktreeRoutes(api, svcs.worktreeMgr, svcs.catalog, drainer, log)

	// Worktree scopes share the handler set with the main group; the
	// middleware swaps in the worktree's project identity and refuses
	// scopes that are not running.
	scoped := router.Group("/worktrees/:name/api",
		proxy.WorktreeScopeMiddleware(svcs.worktreeMgr, cfg.Project.ID, log))
	sessionhandlers.RegisterSessionRoutes(scoped, svcs.sessionSvc, busy, log)
	agenthandlers.RegisterAgentRoutes(scoped, svcs.agentSvc, svcs.registry, log)

	wsHandler := gateways.NewHandler(hub, log)
	router.GET("/ws", wsHandler.HandleConnection)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "devchain",
		})
	})

	return router
}

// loopbackAddr returns the address worktree scopes are reachable through
// from inside the coordinator. A wildcard bind is dialed via loopback.
func loopbackAddr(srv config.ServerConfig) string {
	host := srv.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, srv.Port)
}
