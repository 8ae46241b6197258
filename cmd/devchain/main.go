// Package main is the entry point for the Devchain coordinator. One binary
// runs the session lifecycle service, the worktree manager, and the
// HTTP/WebSocket gateway with shared infrastructure.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TwiTech-LAB/devchain/internal/common/config"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/common/tracing"
	"github.com/TwiTech-LAB/devchain/internal/docker"
	"github.com/TwiTech-LAB/devchain/internal/events/bus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Devchain coordinator...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: in-memory unless NATS is configured.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
	} else {
		log.Info("Using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}
	defer eventBus.Close()

	// Docker is optional: without it sessions and sandboxes run as host
	// processes.
	var dockerClient *docker.Client
	if cfg.Docker.Enabled {
		dockerClient, err = docker.NewClient(cfg.Docker, log)
		if err != nil {
			log.Warn("Failed to initialize Docker client, using process runtime", zap.Error(err))
			dockerClient = nil
		} else if err := dockerClient.Ping(ctx); err != nil {
			log.Warn("Docker daemon not available, using process runtime", zap.Error(err))
			_ = dockerClient.Close()
			dockerClient = nil
		} else {
			log.Info("Connected to Docker daemon")
			defer dockerClient.Close()
		}
	}

	st, err := provideStores(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer st.Close(log)

	svcs, err := provideServices(ctx, cfg, st, dockerClient, eventBus, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}

	// Repair persisted state against reality before serving traffic.
	if err := svcs.sessionSvc.Reconcile(ctx); err != nil {
		log.Fatal("Session reconciliation failed", zap.Error(err))
	}
	if err := svcs.worktreeMgr.Reconcile(ctx, cfg.Project.ID); err != nil {
		log.Fatal("Worktree reconciliation failed", zap.Error(err))
	}

	hub := provideGateway(ctx, eventBus, svcs, log)
	router := buildRouter(cfg, svcs, hub, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"),
			zap.String("api", "/api/v1"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			log.Info("Received signal", zap.String("signal", sig.String()))
		case <-gctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := svcs.sessionSvc.Shutdown(shutdownCtx); err != nil {
			log.Error("Session shutdown error", zap.Error(err))
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Error("Tracing shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Coordinator exited with error", zap.Error(err))
	}
	log.Info("Devchain stopped")
}
