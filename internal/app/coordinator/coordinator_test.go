package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"tether/internal/app/bus"
	"tether/internal/app/errors"
	"tether/internal/app/lifecycle"
	"tether/internal/app/preflight"
	"tether/internal/app/process"
	"tether/internal/app/readiness"
	"tether/internal/app/relay"
	"tether/internal/app/supervisor"
	"tether/internal/config"
	"tether/internal/config/logger"
)

type countingLifecycle struct {
	lifecycle.Lifecycle
	kills atomic.Int32
}

func (c *countingLifecycle) Kill(proc process.Process) error {
	c.kills.Add(1)
	return c.Lifecycle.Kill(proc)
}

type fakeLocker struct {
	err      error
	acquired atomic.Int32
	released atomic.Int32
}

func (f *fakeLocker) Acquire(port int) error {
	if f.err != nil {
		return f.err
	}

	f.acquired.Add(1)

	return nil
}

func (f *fakeLocker) Release() {
	f.released.Add(1)
}

type fakePreflight struct {
	err error
}

func (f *fakePreflight) Check(ctx context.Context, port int) ([]preflight.Result, error) {
	return nil, f.err
}

type harness struct {
	coordinator Coordinator
	supervisor  supervisor.Supervisor
	lifecycle   *countingLifecycle
	locker      *fakeLocker
	bus         bus.Bus
	msgs        <-chan bus.Message
	stop        func()
}

func newHarness(t *testing.T, script string, prober readiness.Prober, pre preflight.Preflight) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Service.Command = "sh"
	cfg.Service.Args = []string{"-c", script}
	cfg.Shutdown.Timeout = 3 * time.Second

	if pre == nil {
		pre = &fakePreflight{}
	}

	lc := &countingLifecycle{Lifecycle: lifecycle.NewLifecycle(logger.Nop())}
	sup := supervisor.NewSupervisor(cfg, lc, logger.Nop())
	locker := &fakeLocker{}
	b := bus.New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	msgs := b.Subscribe(ctx)

	c := NewCoordinator(cfg, sup, relay.NewRelay(logger.Nop()), prober, pre, locker, b, logger.Nop())

	return &harness{
		coordinator: c,
		supervisor:  sup,
		lifecycle:   lc,
		locker:      locker,
		bus:         b,
		msgs:        msgs,
		stop: func() {
			cancel()
			b.Close()
		},
	}
}

func waitFor(t *testing.T, msgs <-chan bus.Message, typ bus.MessageType) bus.Message {
	t.Helper()

	timeout := time.After(5 * time.Second)

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				t.Fatalf("bus closed before %s", typ)
			}

			if msg.Type == typ {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %s message", typ)
		}
	}
}

// drained returns the message types delivered so far
func drained(msgs <-chan bus.Message) []bus.MessageType {
	time.Sleep(100 * time.Millisecond)

	var types []bus.MessageType

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return types
			}

			types = append(types, msg.Type)
		default:
			return types
		}
	}
}

func readyProber(ctrl *gomock.Controller) readiness.Prober {
	prober := readiness.NewMockProber(ctrl)
	prober.EXPECT().Probe(gomock.Any(), gomock.Any()).Return(readiness.Result{Attempts: 5, Elapsed: 40 * time.Millisecond}, nil)

	return prober
}

// blockingProber never succeeds; it returns once its context is cancelled
func blockingProber(ctrl *gomock.Controller, returned chan<- error) readiness.Prober {
	prober := readiness.NewMockProber(ctrl)
	prober.EXPECT().Probe(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, target readiness.Target) (readiness.Result, error) {
		<-ctx.Done()

		if returned != nil {
			returned <- ctx.Err()
		}

		return readiness.Result{}, ctx.Err()
	})

	return prober
}

func Test_Coordinator_ReadyThenUserShutdown(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(t, "sleep 30", readyProber(ctrl), nil)
	defer h.stop()

	assert.Equal(t, NotStarted, h.coordinator.Phase())
	require.NoError(t, h.coordinator.Start(context.Background()))

	msg := waitFor(t, h.msgs, bus.EventServerReady)
	assert.True(t, h.coordinator.State().Ready(), "ready flag set before server-ready is observable")
	assert.Equal(t, bus.ServerReady{Port: 8556, Attempts: 5, Duration: 40 * time.Millisecond}, msg.Data)
	assert.Equal(t, Ready, h.coordinator.Phase())

	proc := h.coordinator.Process()
	require.NotNil(t, proc)

	require.NoError(t, h.coordinator.Shutdown(context.Background(), TriggerUser))

	shutdown := waitFor(t, h.msgs, bus.EventShutdownRequested)
	assert.Equal(t, bus.ShutdownRequested{Trigger: "user"}, shutdown.Data)

	select {
	case <-proc.Done():
	default:
		t.Fatal("process still running after shutdown")
	}

	select {
	case <-h.coordinator.Terminated():
	default:
		t.Fatal("terminated channel not closed")
	}

	assert.Equal(t, Terminated, h.coordinator.Phase())
	assert.Equal(t, int32(1), h.lifecycle.kills.Load())
	assert.Equal(t, int32(1), h.locker.released.Load())
	assert.NotContains(t, drained(h.msgs), bus.EventServerCrashed)
}

func Test_Coordinator_CrashMidProbe(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	probeReturned := make(chan error, 1)

	h := newHarness(t, "sleep 0.2; exit 1", blockingProber(ctrl, probeReturned), nil)
	defer h.stop()

	require.NoError(t, h.coordinator.Start(context.Background()))

	msg := waitFor(t, h.msgs, bus.EventServerCrashed)

	crashed, ok := msg.Data.(bus.ServerCrashed)
	require.True(t, ok)
	require.NotNil(t, crashed.Code)
	assert.Equal(t, 1, *crashed.Code)

	select {
	case err := <-probeReturned:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("probe not abandoned after crash")
	}

	assert.Equal(t, Failed, h.coordinator.Phase())
	assert.False(t, h.coordinator.State().Ready())
	assert.False(t, h.coordinator.State().HasChild())

	_, acted := h.supervisor.TerminateOnce(h.coordinator.State())
	assert.False(t, acted)
	assert.Zero(t, h.lifecycle.kills.Load())

	types := drained(h.msgs)
	assert.NotContains(t, types, bus.EventServerError)
	assert.NotContains(t, types, bus.EventServerCrashed)

	require.NoError(t, h.coordinator.Shutdown(context.Background(), TriggerExit))
	assert.Equal(t, Terminated, h.coordinator.Phase())
	assert.Zero(t, h.lifecycle.kills.Load())
}

func Test_Coordinator_CrashWhileDescendantHoldsOutput(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	probeReturned := make(chan error, 1)

	h := newHarness(t, "sleep 30 & exit 3", blockingProber(ctrl, probeReturned), nil)
	defer h.stop()

	start := time.Now()

	require.NoError(t, h.coordinator.Start(context.Background()))

	pid := h.coordinator.Process().PID()
	t.Cleanup(func() { _ = syscall.Kill(-pid, syscall.SIGKILL) })

	msg := waitFor(t, h.msgs, bus.EventServerCrashed)
	assert.Less(t, time.Since(start), 3*time.Second)

	crashed, ok := msg.Data.(bus.ServerCrashed)
	require.True(t, ok)
	require.NotNil(t, crashed.Code)
	assert.Equal(t, 3, *crashed.Code)

	select {
	case err := <-probeReturned:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("probe not abandoned after crash")
	}

	require.NoError(t, h.coordinator.Shutdown(context.Background(), TriggerExit))
	assert.Zero(t, h.lifecycle.kills.Load())
}

func Test_Coordinator_CrashAfterReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(t, "sleep 0.3; exit 3", readyProber(ctrl), nil)
	defer h.stop()

	require.NoError(t, h.coordinator.Start(context.Background()))

	waitFor(t, h.msgs, bus.EventServerReady)
	msg := waitFor(t, h.msgs, bus.EventServerCrashed)

	crashed := msg.Data.(bus.ServerCrashed)
	require.NotNil(t, crashed.Code)
	assert.Equal(t, 3, *crashed.Code)
	assert.Equal(t, Failed, h.coordinator.Phase())

	require.NoError(t, h.coordinator.Shutdown(context.Background(), TriggerExit))
}

func Test_Coordinator_ReadinessTimeoutLeavesProcessRunning(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	timeoutErr := &readiness.TimeoutError{
		URL:      "http://localhost:8556/",
		Port:     8556,
		Attempts: 300,
		Budget:   90 * time.Second,
	}

	prober := readiness.NewMockProber(ctrl)
	prober.EXPECT().Probe(gomock.Any(), gomock.Any()).Return(readiness.Result{Attempts: 300}, timeoutErr)

	h := newHarness(t, "sleep 30", prober, nil)
	defer h.stop()

	require.NoError(t, h.coordinator.Start(context.Background()))

	msg := waitFor(t, h.msgs, bus.EventServerError)
	assert.Contains(t, msg.Data.(bus.ServerError).Message, "port 8556")
	assert.Contains(t, msg.Data.(bus.ServerError).Message, "300 attempts")
	assert.Equal(t, Failed, h.coordinator.Phase())

	proc := h.coordinator.Process()

	select {
	case <-proc.Done():
		t.Fatal("readiness timeout must not kill the process")
	case <-time.After(100 * time.Millisecond):
	}

	assert.True(t, h.coordinator.State().HasChild())

	require.NoError(t, h.coordinator.Shutdown(context.Background(), TriggerRequest))

	<-proc.Done()

	assert.Equal(t, int32(1), h.lifecycle.kills.Load())
	assert.NotContains(t, drained(h.msgs), bus.EventServerCrashed)
}

func Test_Coordinator_SpawnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// no expectations: any probe call fails the test
	prober := readiness.NewMockProber(ctrl)

	h := newHarness(t, "", prober, nil)
	defer h.stop()

	cfg := config.DefaultConfig()
	cfg.Service.Command = "tether-definitely-not-installed"

	h.supervisor = supervisor.NewSupervisor(cfg, h.lifecycle, logger.Nop())
	h.coordinator = NewCoordinator(cfg, h.supervisor, relay.NewRelay(logger.Nop()), prober, &fakePreflight{}, h.locker, h.bus, logger.Nop())

	err := h.coordinator.Start(context.Background())

	assert.ErrorIs(t, err, errors.ErrFailedToStartCommand)
	assert.ErrorIs(t, err, errors.ErrExecutableNotFound)

	msg := waitFor(t, h.msgs, bus.EventServerError)
	assert.Contains(t, msg.Data.(bus.ServerError).Message, "executable not found")

	assert.Equal(t, Failed, h.coordinator.Phase())
	assert.False(t, h.coordinator.State().HasChild())
	assert.Nil(t, h.coordinator.Process())
	assert.Equal(t, int32(1), h.locker.released.Load())

	require.NoError(t, h.coordinator.Shutdown(context.Background(), TriggerExit))
	assert.Zero(t, h.lifecycle.kills.Load())
}

func Test_Coordinator_PreflightRejectsHeldPort(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(t, "sleep 30", readiness.NewMockProber(ctrl), &fakePreflight{err: errors.ErrPortInUse})
	defer h.stop()

	err := h.coordinator.Start(context.Background())

	assert.ErrorIs(t, err, errors.ErrFailedToStartCommand)
	assert.ErrorIs(t, err, errors.ErrPortInUse)
	assert.False(t, h.coordinator.State().HasChild())
	assert.Equal(t, int32(1), h.locker.released.Load())

	waitFor(t, h.msgs, bus.EventServerError)
}

func Test_Coordinator_InstanceLocked(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(t, "sleep 30", readiness.NewMockProber(ctrl), nil)
	defer h.stop()

	h.locker.err = errors.ErrInstanceLocked

	err := h.coordinator.Start(context.Background())

	assert.ErrorIs(t, err, errors.ErrInstanceLocked)
	assert.Equal(t, Failed, h.coordinator.Phase())
}

func Test_Coordinator_StartTwice(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(t, "sleep 30", blockingProber(ctrl, nil), nil)
	defer h.stop()

	require.NoError(t, h.coordinator.Start(context.Background()))
	assert.ErrorIs(t, h.coordinator.Start(context.Background()), errors.ErrAlreadyStarted)

	require.NoError(t, h.coordinator.Shutdown(context.Background(), TriggerExit))
	assert.Equal(t, int32(1), h.lifecycle.kills.Load())
}

func Test_Coordinator_ShutdownBeforeStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(t, "sleep 30", readiness.NewMockProber(ctrl), nil)
	defer h.stop()

	require.NoError(t, h.coordinator.Shutdown(context.Background(), TriggerExit))
	assert.Equal(t, Terminated, h.coordinator.Phase())

	assert.ErrorIs(t, h.coordinator.Start(context.Background()), errors.ErrAlreadyStarted)
	assert.Nil(t, h.coordinator.Process())
}

func Test_Coordinator_ConcurrentTriggersKillOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(t, "sleep 30", blockingProber(ctrl, nil), nil)
	defer h.stop()

	require.NoError(t, h.coordinator.Start(context.Background()))

	triggers := []Trigger{TriggerUser, TriggerExit, TriggerRequest}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, 30)
	)

	for i := 0; i < 30; i++ {
		wg.Add(1)

		go func(trigger Trigger) {
			defer wg.Done()

			<-start

			errs <- h.coordinator.Shutdown(context.Background(), trigger)
		}(triggers[i%len(triggers)])
	}

	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int32(1), h.lifecycle.kills.Load())
	assert.Equal(t, Terminated, h.coordinator.Phase())

	requested := 0

	for _, typ := range drained(h.msgs) {
		if typ == bus.EventShutdownRequested {
			requested++
		}

		assert.NotEqual(t, bus.EventServerCrashed, typ)
	}

	assert.Equal(t, 1, requested)
}

func Test_Coordinator_ShutdownHonoursContextWhileQueued(t *testing.T) {
	h := newHarness(t, "sleep 30", nil, nil)
	defer h.stop()

	c := h.coordinator.(*coordinator)
	c.sem <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, h.coordinator.Shutdown(ctx, TriggerUser), context.DeadlineExceeded)

	<-c.sem
}

func Test_Coordinator_NoLeakedGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(t, "echo started; sleep 30", blockingProber(ctrl, nil), nil)
	defer h.stop()

	require.NoError(t, h.coordinator.Start(context.Background()))
	require.NoError(t, h.coordinator.Shutdown(context.Background(), TriggerUser))
}
