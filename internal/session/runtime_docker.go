package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/common/config"
	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/docker"
)

// Labels stamped on session containers so boot reconciliation can find them.
const (
	LabelManaged   = "devchain.managed"
	LabelSessionID = "devchain.session.id"
	LabelAgentID   = "devchain.agent.id"
)

const containerStopTimeout = 10 * time.Second

// DockerRuntime hosts agent terminals in containers.
type DockerRuntime struct {
	client *docker.Client
	config config.SessionConfig
	logger *logger.Logger
}

func NewDockerRuntime(client *docker.Client, cfg config.SessionConfig, log *logger.Logger) *DockerRuntime {
	return &DockerRuntime{
		client: client,
		config: cfg,
		logger: log.WithFields(zap.String("component", "docker-runtime")),
	}
}

func (r *DockerRuntime) Type() RuntimeType { return RuntimeContainer }

// Start creates and starts a container for the session. The container is
// removed again if start fails so no half-created container leaks.
func (r *DockerRuntime) Start(ctx context.Context, spec LaunchSpec) (Handle, error) {
	image := spec.Image
	if image == "" {
		image = r.config.DefaultImage
	}

	cfg := docker.ContainerConfig{
		Name:       fmt.Sprintf("devchain-session-%s", spec.SessionID),
		Image:      image,
		Cmd:        []string{"sh", "-lc", spec.Command},
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Labels: map[string]string{
			LabelManaged:   "true",
			LabelSessionID: spec.SessionID,
			LabelAgentID:   spec.AgentID,
		},
	}
	if spec.WorkingDir != "" {
		cfg.Mounts = []docker.MountConfig{{Source: spec.WorkingDir, Target: spec.WorkingDir}}
	}

	containerID, err := r.client.CreateContainer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := r.client.StartContainer(ctx, containerID); err != nil {
		if rmErr := r.client.RemoveContainer(ctx, containerID, true); rmErr != nil {
			r.logger.Warn("Failed to remove container after failed start",
				zap.String("container_id", containerID),
				zap.Error(rmErr),
			)
		}
		return nil, err
	}

	return &containerHandle{
		containerID: containerID,
		client:      r.client,
		logger:      r.logger.WithSessionID(spec.SessionID),
	}, nil
}

// Attach re-binds to a container from a previous run. Fails when the
// container is gone or no longer running.
func (r *DockerRuntime) Attach(ctx context.Context, containerID string) (Handle, error) {
	info, err := r.client.GetContainerInfo(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if info.State != "running" {
		return nil, fmt.Errorf("container %s is not running (state %s)", containerID, info.State)
	}
	return &containerHandle{
		containerID: containerID,
		client:      r.client,
		logger:      r.logger,
	}, nil
}

// ReapOrphans removes managed session containers not present in the live set.
// Called during boot reconciliation.
func (r *DockerRuntime) ReapOrphans(ctx context.Context, live map[string]bool) error {
	infos, err := r.client.ListContainers(ctx, map[string]string{LabelManaged: "true"})
	if err != nil {
		return err
	}
	for _, info := range infos {
		if live[info.ID] {
			continue
		}
		r.logger.Info("Removing orphaned session container", zap.String("container_id", info.ID))
		if err := r.client.RemoveContainer(ctx, info.ID, true); err != nil {
			r.logger.Warn("Failed to remove orphaned container",
				zap.String("container_id", info.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

type containerHandle struct {
	containerID string
	client      *docker.Client
	logger      *logger.Logger
}

func (h *containerHandle) ID() string { return h.containerID }

func (h *containerHandle) Stop(ctx context.Context) error {
	if err := h.client.StopContainer(ctx, h.containerID, containerStopTimeout); err != nil {
		// Fall through to remove; the container may already be gone.
		h.logger.Warn("Failed to stop session container", zap.Error(err))
	}
	if err := h.client.RemoveContainer(ctx, h.containerID, true); err != nil {
		return fmt.Errorf("failed to remove session container: %w", err)
	}
	return nil
}
