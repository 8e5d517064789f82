package supervisor

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"tether/internal/app/errors"
	"tether/internal/app/lifecycle"
	"tether/internal/app/process"
	"tether/internal/config"
	"tether/internal/config/logger"
)

// Supervisor owns spawning and terminating the single service process
type Supervisor interface {
	Spawn(state *State) (process.Process, error)
	TerminateOnce(state *State) (process.Process, bool)
	Release(state *State) bool
}

// supervisor implements the Supervisor interface
type supervisor struct {
	cfg       *config.Config
	lifecycle lifecycle.Lifecycle
	log       logger.Logger
}

// NewSupervisor creates a new Supervisor instance
func NewSupervisor(cfg *config.Config, lifecycle lifecycle.Lifecycle, log logger.Logger) Supervisor {
	return &supervisor{
		cfg:       cfg,
		lifecycle: lifecycle,
		log:       log.WithComponent("SUPERVISOR"),
	}
}

// Spawn starts the configured service exactly once per State.
// Every failure wraps ErrFailedToStartCommand and leaves the State without a child.
func (s *supervisor) Spawn(state *State) (process.Process, error) {
	if err := state.claim(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToStartCommand, err)
	}

	svc := s.cfg.Service
	if svc.Command == "" {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToStartCommand, errors.ErrCommandRequired)
	}

	dir, err := resolveDir(svc.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToStartCommand, err)
	}

	env, err := s.environment(dir, state.Port())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToStartCommand, err)
	}

	cmd := exec.Command(svc.Command, svc.Args...) // #nosec G204 -- command comes from the operator's config
	cmd.Dir = dir
	cmd.Env = env

	s.lifecycle.Configure(cmd)

	proc, err := process.Start(svc.Name, cmd)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w: %w", errors.ErrFailedToStartCommand, errors.ErrExecutableNotFound, err)
		}

		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToStartCommand, err)
	}

	state.attach(proc)

	s.log.Info().Msgf("Started service '%s' (PID: %d) in directory: %s, waiting for port %d", svc.Name, proc.PID(), dir, state.Port())

	return proc, nil
}

// TerminateOnce takes the child out of state and kills it. Concurrent callers race on the take,
// so exactly one of them kills; the rest return false. Kill errors are logged, never returned.
func (s *supervisor) TerminateOnce(state *State) (process.Process, bool) {
	proc := state.Take()
	if proc == nil {
		return nil, false
	}

	s.log.Info().Msgf("Shutting down service '%s' (PID: %d)", proc.Name(), proc.PID())

	if err := s.lifecycle.Kill(proc); err != nil {
		s.log.Warn().Err(err).Msgf("Failed to kill service '%s'", proc.Name())
	}

	return proc, true
}

// Release consumes the child without signalling it, for a process that already exited on its own
func (s *supervisor) Release(state *State) bool {
	proc := state.Take()
	if proc == nil {
		return false
	}

	s.log.Debug().Msgf("Released handle of exited service '%s' (PID: %d)", proc.Name(), proc.PID())

	return true
}

// environment merges the process environment, the optional env file and the port variable
func (s *supervisor) environment(dir string, port int) ([]string, error) {
	env := os.Environ()

	if s.cfg.Service.EnvFile != "" {
		envFile := s.cfg.Service.EnvFile
		if !filepath.IsAbs(envFile) {
			envFile = filepath.Join(dir, envFile)
		}

		vars, err := godotenv.Read(envFile)

		switch {
		case err == nil:
			for k, v := range vars {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
		case os.IsNotExist(err):
			s.log.Warn().Msgf("Environment file not found for service '%s': %s", s.cfg.Service.Name, envFile)
		default:
			return nil, fmt.Errorf("%w: %w", errors.ErrFailedToLoadEnvFile, err)
		}
	}

	return append(env, fmt.Sprintf("%s=%s", s.cfg.Service.PortEnv, strconv.Itoa(port))), nil
}

// resolveDir returns an absolute, existing working directory; empty means the current one
func resolveDir(dir string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrFailedToGetWorkingDir, err)
	}

	if dir == "" {
		return wd, nil
	}

	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wd, dir)
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", errors.ErrServiceDirectoryNotExist, dir)
	}

	return dir, nil
}
