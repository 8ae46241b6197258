package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/TwiTech-LAB/devchain/internal/common/logger"
)

// processStopTimeout is how long a terminal gets to exit after SIGTERM
// before it is killed.
const processStopTimeout = 5 * time.Second

// ProcessRuntime hosts agent terminals as local processes attached to a pty.
type ProcessRuntime struct {
	logger *logger.Logger
}

func NewProcessRuntime(log *logger.Logger) *ProcessRuntime {
	return &ProcessRuntime{logger: log.WithFields(zap.String("component", "process-runtime"))}
}

func (r *ProcessRuntime) Type() RuntimeType { return RuntimeProcess }

// Start launches the session command under a pty sized from the spec.
func (r *ProcessRuntime) Start(ctx context.Context, spec LaunchSpec) (Handle, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("launch spec has no command")
	}

	cmd := exec.Command("sh", "-lc", spec.Command)
	cmd.Dir = spec.WorkingDir
	cmd.Env = append(os.Environ(), spec.Env...)

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: spec.Cols, Rows: spec.Rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start session process: %w", err)
	}

	h := &processHandle{
		id:     fmt.Sprintf("pty-%s", spec.SessionID),
		cmd:    cmd,
		f:      f,
		done:   make(chan struct{}),
		logger: r.logger.WithSessionID(spec.SessionID),
	}

	go h.wait()

	r.logger.Info("Session process started",
		zap.String("session_id", spec.SessionID),
		zap.Int("pid", cmd.Process.Pid),
	)
	return h, nil
}

type processHandle struct {
	id     string
	cmd    *exec.Cmd
	f      *os.File
	logger *logger.Logger

	done     chan struct{}
	stopOnce sync.Once
}

func (h *processHandle) ID() string { return h.id }

// wait drains the pty and reaps the process. Draining keeps the child from
// blocking on a full pty buffer.
func (h *processHandle) wait() {
	_, _ = io.Copy(io.Discard, h.f)
	_ = h.cmd.Wait()
	close(h.done)
}

// Stop sends SIGTERM to the process group and kills it if it does not exit
// within the grace period. Safe to call more than once.
func (h *processHandle) Stop(ctx context.Context) error {
	var stopErr error
	h.stopOnce.Do(func() {
		select {
		case <-h.done:
			_ = h.f.Close()
			return
		default:
		}

		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			h.logger.Debug("SIGTERM failed, process likely gone", zap.Error(err))
		}

		select {
		case <-h.done:
		case <-time.After(processStopTimeout):
			h.logger.Warn("Session process did not exit, killing")
			if err := h.cmd.Process.Kill(); err != nil {
				stopErr = fmt.Errorf("failed to kill session process: %w", err)
			}
			<-h.done
		case <-ctx.Done():
			_ = h.cmd.Process.Kill()
			stopErr = ctx.Err()
		}

		_ = h.f.Close()
	})
	return stopErr
}
