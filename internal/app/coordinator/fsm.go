package coordinator

import (
	"context"

	"github.com/looplab/fsm"

	"tether/internal/app/bus"
	"tether/internal/app/supervisor"
	"tether/internal/config/logger"
)

// FSM states
const (
	NotStarted        = "not_started"
	Spawning          = "spawning"
	AwaitingReadiness = "awaiting_readiness"
	Ready             = "ready"
	Failed            = "failed"
	ShuttingDown      = "shutting_down"
	Terminated        = "terminated"
)

// FSM events
const (
	Spawn     = "spawn"
	Spawned   = "spawned"
	Confirm   = "confirm"
	Fail      = "fail"
	Shutdown  = "shutdown"
	Terminate = "terminate"
)

// FSM callbacks
const (
	OnReady = "enter_" + Ready
)

// newSupervisorFSM creates the state machine deciding which outcome of a run wins.
// Ready and failed are mutually exclusive outcomes; shutdown is reachable from every state but terminated.
func newSupervisorFSM(state *supervisor.State, b bus.Bus, log logger.Logger) *fsm.FSM {
	return fsm.NewFSM(
		NotStarted,
		fsm.Events{
			{Name: Spawn, Src: []string{NotStarted}, Dst: Spawning},
			{Name: Spawned, Src: []string{Spawning}, Dst: AwaitingReadiness},
			{Name: Confirm, Src: []string{AwaitingReadiness}, Dst: Ready},
			{Name: Fail, Src: []string{Spawning, AwaitingReadiness, Ready}, Dst: Failed},
			{Name: Shutdown, Src: []string{NotStarted, Spawning, AwaitingReadiness, Ready, Failed}, Dst: ShuttingDown},
			{Name: Terminate, Src: []string{ShuttingDown}, Dst: Terminated},
		},
		fsm.Callbacks{
			// the ready flag is set before any subscriber can learn about the transition
			OnReady: func(ctx context.Context, e *fsm.Event) {
				state.MarkReady()
			},
			"after_event": func(ctx context.Context, e *fsm.Event) {
				log.Debug().Msgf("STATE %s → %s (trigger: %s)", e.Src, e.Dst, e.Event)

				b.Publish(bus.Message{
					Type: bus.EventPhaseChanged,
					Data: bus.PhaseChanged{From: e.Src, To: e.Dst},
				})
			},
		},
	)
}
