package worktree

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/common/logger"
	"github.com/TwiTech-LAB/devchain/internal/docker"
)

// sandboxStopTimeout is how long a sandbox container gets to exit cleanly.
const sandboxStopTimeout = 10 * time.Second

// Labels stamped on sandbox containers.
const (
	LabelManaged      = "devchain.managed"
	LabelWorktreeName = "devchain.worktree.name"
	LabelProjectID    = "devchain.project.id"
)

// SandboxInfo identifies a started sandbox.
type SandboxInfo struct {
	// ID is the container id or process handle of the sandbox.
	ID string

	// DevchainProjectID is the project id of the devchain instance serving
	// the worktree from inside the sandbox.
	DevchainProjectID string
}

// Sandbox hosts the isolated devchain instance a worktree's agents run in.
type Sandbox interface {
	// Available reports whether this sandbox kind can be used.
	Available(ctx context.Context) bool
	Start(ctx context.Context, wt *Worktree, tmpl Template) (*SandboxInfo, error)
	Stop(ctx context.Context, sandboxID string) error
}

// DockerSandbox runs worktree sandboxes as containers.
type DockerSandbox struct {
	client *docker.Client
	logger *logger.Logger
}

func NewDockerSandbox(client *docker.Client, log *logger.Logger) *DockerSandbox {
	return &DockerSandbox{
		client: client,
		logger: log.WithFields(zap.String("component", "worktree-sandbox")),
	}
}

// Available pings the Docker daemon.
func (s *DockerSandbox) Available(ctx context.Context) bool {
	return s.client != nil && s.client.Ping(ctx) == nil
}

// Start creates and starts the sandbox container with the worktree checkout
// mounted at its own path.
func (s *DockerSandbox) Start(ctx context.Context, wt *Worktree, tmpl Template) (*SandboxInfo, error) {
	projectID := uuid.New().String()

	containerID, err := s.client.CreateContainer(ctx, docker.ContainerConfig{
		Name:       fmt.Sprintf("devchain-worktree-%s", wt.Name),
		Image:      tmpl.Image,
		WorkingDir: wt.Path,
		Env: []string{
			"DEVCHAIN_PROJECT_ID=" + projectID,
			"DEVCHAIN_WORKTREE=" + wt.Name,
		},
		Mounts: []docker.MountConfig{{Source: wt.Path, Target: wt.Path}},
		Labels: map[string]string{
			LabelManaged:      "true",
			LabelWorktreeName: wt.Name,
			LabelProjectID:    projectID,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := s.client.StartContainer(ctx, containerID); err != nil {
		if rmErr := s.client.RemoveContainer(ctx, containerID, true); rmErr != nil {
			s.logger.Warn("failed to remove sandbox container after failed start",
				zap.String("container_id", containerID), zap.Error(rmErr))
		}
		return nil, err
	}

	return &SandboxInfo{ID: containerID, DevchainProjectID: projectID}, nil
}

// Stop stops and removes the sandbox container.
func (s *DockerSandbox) Stop(ctx context.Context, sandboxID string) error {
	if sandboxID == "" {
		return nil
	}
	if err := s.client.StopContainer(ctx, sandboxID, sandboxStopTimeout); err != nil {
		s.logger.Warn("failed to stop sandbox container",
			zap.String("container_id", sandboxID), zap.Error(err))
	}
	return s.client.RemoveContainer(ctx, sandboxID, true)
}

// ProcessSandbox runs worktree sandboxes as host-local scopes with no
// container isolation. Used when no container runtime is available.
type ProcessSandbox struct {
	logger *logger.Logger
}

func NewProcessSandbox(log *logger.Logger) *ProcessSandbox {
	return &ProcessSandbox{logger: log.WithFields(zap.String("component", "worktree-sandbox"))}
}

func (s *ProcessSandbox) Available(ctx context.Context) bool { return true }

func (s *ProcessSandbox) Start(ctx context.Context, wt *Worktree, tmpl Template) (*SandboxInfo, error) {
	projectID := uuid.New().String()
	return &SandboxInfo{
		ID:                "proc-" + wt.Name,
		DevchainProjectID: projectID,
	}, nil
}

func (s *ProcessSandbox) Stop(ctx context.Context, sandboxID string) error { return nil }
