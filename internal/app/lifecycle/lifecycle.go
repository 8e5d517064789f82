package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"tether/internal/app/errors"
	"tether/internal/app/process"
	"tether/internal/config/logger"
)

// Lifecycle handles process group configuration and termination
type Lifecycle interface {
	Configure(cmd *exec.Cmd)
	Kill(proc process.Process) error
}

// lifecycle implements the Lifecycle interface
type lifecycle struct {
	log logger.Logger
}

// NewLifecycle creates a new Lifecycle instance
func NewLifecycle(log logger.Logger) Lifecycle {
	return &lifecycle{log: log.WithComponent("LIFECYCLE")}
}

// Configure places the command in its own process group so the whole tree can be signalled
func (l *lifecycle) Configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Kill sends SIGKILL to the process group, falling back to the process itself.
// It does not wait for the process to exit.
func (l *lifecycle) Kill(proc process.Process) error {
	select {
	case <-proc.Done():
		return nil
	default:
	}

	cmd := proc.Cmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	l.log.Debug().Msgf("Sending SIGKILL to '%s' (PID: %d)", proc.Name(), pid)

	groupErr := syscall.Kill(-pid, syscall.SIGKILL)
	if groupErr == nil {
		return nil
	}

	l.log.Warn().Err(groupErr).Msgf("Failed to SIGKILL process group of '%s', trying direct kill", proc.Name())

	if err := cmd.Process.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}

		return fmt.Errorf("%w: %w", errors.ErrFailedToTerminateProcess, err)
	}

	return nil
}
