package supervisor

import (
	"sync"

	"tether/internal/app/errors"
	"tether/internal/app/process"
)

// State is the supervised service's shared state: its port, readiness flag and the take-once child handle
type State struct {
	port int

	readyMu sync.RWMutex
	ready   bool

	childMu  sync.Mutex
	child    process.Process
	attached bool
}

// NewState creates the state for a service listening on port
func NewState(port int) *State {
	return &State{port: port}
}

// Port returns the port the service is expected to listen on
func (s *State) Port() int {
	return s.port
}

// Ready reports whether readiness has been confirmed
func (s *State) Ready() bool {
	s.readyMu.RLock()
	defer s.readyMu.RUnlock()

	return s.ready
}

// MarkReady sets the ready flag and reports whether this call was the one that set it
func (s *State) MarkReady() bool {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()

	if s.ready {
		return false
	}

	s.ready = true

	return true
}

// claim reserves the single spawn attempt a State allows for its whole lifetime
func (s *State) claim() error {
	s.childMu.Lock()
	defer s.childMu.Unlock()

	if s.attached {
		return errors.ErrAlreadyStarted
	}

	s.attached = true

	return nil
}

// attach stores the spawned child
func (s *State) attach(proc process.Process) {
	s.childMu.Lock()
	defer s.childMu.Unlock()

	s.child = proc
}

// Take removes and returns the child. Only the first caller gets a non-nil handle.
func (s *State) Take() process.Process {
	s.childMu.Lock()
	defer s.childMu.Unlock()

	proc := s.child
	s.child = nil

	return proc
}

// HasChild reports whether a live child handle is still held
func (s *State) HasChild() bool {
	s.childMu.Lock()
	defer s.childMu.Unlock()

	return s.child != nil
}
