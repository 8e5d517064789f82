package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"tether/internal/app/bus"
	"tether/internal/app/errors"
	"tether/internal/app/instance"
	"tether/internal/app/preflight"
	"tether/internal/app/process"
	"tether/internal/app/readiness"
	"tether/internal/app/relay"
	"tether/internal/app/supervisor"
	"tether/internal/config"
	"tether/internal/config/logger"
)

// Trigger names the source of a shutdown request
type Trigger string

// Shutdown triggers
const (
	TriggerUser    Trigger = "user"
	TriggerExit    Trigger = "exit"
	TriggerRequest Trigger = "request"
)

// Coordinator runs one supervised service from spawn to termination
type Coordinator interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context, trigger Trigger) error
	Phase() string
	State() *supervisor.State
	Process() process.Process
	Terminated() <-chan struct{}
}

type coordinator struct {
	cfg        *config.Config
	state      *supervisor.State
	supervisor supervisor.Supervisor
	relay      relay.Relay
	prober     readiness.Prober
	preflight  preflight.Preflight
	locker     instance.Locker
	bus        bus.Bus
	log        logger.Logger

	machine *fsm.FSM

	// ctx scopes the background work of a run; cancelled by a crash or a shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	procMu sync.Mutex
	proc   process.Process

	sem          chan struct{}
	shuttingDown atomic.Bool
	crashOnce    sync.Once
	terminated   chan struct{}
}

// NewCoordinator creates a new Coordinator for the configured service
func NewCoordinator(
	cfg *config.Config,
	sup supervisor.Supervisor,
	rel relay.Relay,
	prober readiness.Prober,
	pre preflight.Preflight,
	locker instance.Locker,
	b bus.Bus,
	log logger.Logger,
) Coordinator {
	log = log.WithComponent("COORDINATOR")
	state := supervisor.NewState(cfg.Service.Port)
	ctx, cancel := context.WithCancel(context.Background())

	return &coordinator{
		cfg:        cfg,
		state:      state,
		supervisor: sup,
		relay:      rel,
		prober:     prober,
		preflight:  pre,
		locker:     locker,
		bus:        b,
		log:        log,
		machine:    newSupervisorFSM(state, b, log),
		ctx:        ctx,
		cancel:     cancel,
		sem:        make(chan struct{}, 1),
		terminated: make(chan struct{}),
	}
}

// Start spawns the service and returns once it runs; readiness is reported through the bus.
// A spawn failure is published as server-error and returned. Start and Shutdown exclude each other.
func (c *coordinator) Start(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	defer func() { <-c.sem }()

	if err := c.machine.Event(context.Background(), Spawn); err != nil {
		return fmt.Errorf("%w: phase %s", errors.ErrAlreadyStarted, c.machine.Current())
	}

	proc, err := c.spawn(ctx)
	if err != nil {
		c.fail(err)
		return err
	}

	c.procMu.Lock()
	c.proc = proc
	c.procMu.Unlock()

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		c.relay.Run(proc.Name(), proc.Events(), c.onExit)
	}()

	// the child may already have exited and decided the outcome
	if err := c.machine.Event(context.Background(), Spawned); err != nil {
		c.log.Debug().Msgf("Readiness polling skipped in phase %s", c.machine.Current())
		return nil
	}

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		c.awaitReadiness()
	}()

	return nil
}

// spawn runs the pre-spawn checks, then the child
func (c *coordinator) spawn(ctx context.Context) (process.Process, error) {
	port := c.state.Port()

	if err := c.locker.Acquire(port); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToStartCommand, err)
	}

	if _, err := c.preflight.Check(ctx, port); err != nil {
		c.locker.Release()
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToStartCommand, err)
	}

	proc, err := c.supervisor.Spawn(c.state)
	if err != nil {
		c.locker.Release()
		return nil, err
	}

	return proc, nil
}

// fail publishes a startup failure if it is the first decisive outcome
func (c *coordinator) fail(err error) {
	if c.machine.Event(context.Background(), Fail) != nil {
		c.log.Debug().Err(err).Msg("Failure ignored, outcome already decided")
		return
	}

	c.log.Error().Err(err).Msg("Service failed to start")

	c.bus.Publish(bus.Message{
		Type:     bus.EventServerError,
		Data:     bus.ServerError{Message: err.Error()},
		Critical: true,
	})
}

// awaitReadiness probes until the service answers, the budget runs out or the run is cancelled
func (c *coordinator) awaitReadiness() {
	target := readiness.TargetFromConfig(c.cfg)

	result, err := c.prober.Probe(c.ctx, target)
	if err != nil {
		if c.ctx.Err() != nil {
			c.log.Debug().Msg("Readiness probe abandoned")
			return
		}

		// the process is left running, it may still be starting up
		c.fail(err)

		return
	}

	if c.machine.Event(context.Background(), Confirm) != nil {
		c.log.Debug().Msgf("Readiness after %d attempts ignored in phase %s", result.Attempts, c.machine.Current())
		return
	}

	c.bus.Publish(bus.Message{
		Type: bus.EventServerReady,
		Data: bus.ServerReady{
			Port:     c.state.Port(),
			Attempts: result.Attempts,
			Duration: result.Elapsed,
		},
		Critical: true,
	})
}

// onExit runs on the relay goroutine once the child terminated
func (c *coordinator) onExit(code *int) {
	c.supervisor.Release(c.state)
	c.cancel()

	if c.shuttingDown.Load() {
		return
	}

	if err := c.machine.Event(context.Background(), Fail); err != nil {
		c.log.Debug().Msgf("Process exit in phase %s", c.machine.Current())
	}

	c.crashOnce.Do(func() {
		c.bus.Publish(bus.Message{
			Type:     bus.EventServerCrashed,
			Data:     bus.ServerCrashed{Code: code},
			Critical: true,
		})
	})
}

// Shutdown terminates the service exactly once whatever the trigger.
// Concurrent callers queue behind the first one; later calls return immediately.
func (c *coordinator) Shutdown(ctx context.Context, trigger Trigger) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	defer func() { <-c.sem }()

	select {
	case <-c.terminated:
		return nil
	default:
	}

	c.shuttingDown.Store(true)
	c.cancel()

	if err := c.machine.Event(context.Background(), Shutdown); err == nil {
		c.log.Debug().Msgf("Shutdown requested (trigger: %s)", trigger)

		c.bus.Publish(bus.Message{
			Type:     bus.EventShutdownRequested,
			Data:     bus.ShutdownRequested{Trigger: string(trigger)},
			Critical: true,
		})
	}

	proc, killed := c.supervisor.TerminateOnce(c.state)

	if err := c.waitForExit(proc, c.cfg.Shutdown.Timeout); err != nil {
		c.log.Warn().Err(err).Msgf("Service did not exit within %s", c.cfg.Shutdown.Timeout)
	}

	if err := c.machine.Event(context.Background(), Terminate); err != nil {
		c.log.Debug().Err(err).Msg("Terminate transition skipped")
	}

	c.locker.Release()
	close(c.terminated)

	if killed {
		c.log.Info().Msgf("Service '%s' terminated (code: %s)", c.cfg.Service.Name, formatCode(proc.ExitCode()))
	}

	return nil
}

// waitForExit waits for the killed child, if any, then for the run's goroutines
func (c *coordinator) waitForExit(proc process.Process, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if proc != nil {
		if err := process.Wait(ctx, proc); err != nil {
			return err
		}
	}

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatCode(code *int) string {
	if code == nil {
		return "none"
	}

	return strconv.Itoa(*code)
}

// Phase returns the current state machine state
func (c *coordinator) Phase() string {
	return c.machine.Current()
}

// State returns the service state
func (c *coordinator) State() *supervisor.State {
	return c.state
}

// Process returns the spawned child, nil before a successful spawn
func (c *coordinator) Process() process.Process {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	return c.proc
}

// Terminated is closed once Shutdown completed
func (c *coordinator) Terminated() <-chan struct{} {
	return c.terminated
}
