package main

import (
	"context"
	"fmt"

	"github.com/TwiTech-LAB/devchain/internal/agent"
	"github.com/TwiTech-LAB/devchain/internal/common/config"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/docker"
	"github.com/TwiTech-LAB/devchain/internal/events/bus"
	"github.com/TwiTech-LAB/devchain/internal/session"
	"github.com/TwiTech-LAB/devchain/internal/worktree"
)

// services bundles the lifecycle services behind the HTTP and WebSocket
// surfaces.
type services struct {
	registry    *session.Registry
	sessionSvc  *session.Service
	agentSvc    *agent.Service
	worktreeMgr *worktree.Manager
	catalog     *worktree.Catalog
}

// provideServices wires the session, agent, and worktree services. A nil
// dockerClient selects the process runtime for sessions and sandboxes.
func provideServices(
	ctx context.Context,
	cfg *config.Config,
	st *stores,
	dockerClient *docker.Client,
	eventBus bus.EventBus,
	log *logger.Logger,
) (*services, error) {
	registry := session.NewRegistry(st.sessions, log)

	var runtime session.Runtime
	if dockerClient != nil {
		runtime = session.NewDockerRuntime(dockerClient, cfg.Session, log)
	} else {
		runtime = session.NewProcessRuntime(log)
	}

	agentSvc := agent.NewService(st.agents, registry, log)

	sessionSvc := session.NewService(
		registry,
		session.NewLockCoordinator(),
		runtime,
		st.agents,
		session.NewProviderGates(cfg.Session, st.agents),
		eventBus,
		cfg.Session,
		log,
	)

	catalog, err := worktree.LoadCatalog(cfg.Worktree.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load worktree templates: %w", err)
	}

	var sandbox worktree.Sandbox
	if dockerClient != nil {
		sandbox = worktree.NewDockerSandbox(dockerClient, log)
	} else {
		sandbox = worktree.NewProcessSandbox(log)
	}

	worktreeMgr, err := worktree.NewManager(ctx, worktree.Config{
		BasePath:      cfg.Worktree.BasePath,
		DefaultBranch: cfg.Worktree.DefaultBranch,
		MaxPerProject: cfg.Worktree.MaxPerProject,
		TemplatePath:  cfg.Worktree.TemplatePath,
	}, st.worktrees, catalog, sandbox, eventBus, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize worktree manager: %w", err)
	}

	return &services{
		registry:    registry,
		sessionSvc:  sessionSvc,
		agentSvc:    agentSvc,
		worktreeMgr: worktreeMgr,
		catalog:     catalog,
	}, nil
}
