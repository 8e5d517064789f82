package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tether/internal/config"
	"tether/internal/config/logger"
)

// MessageType represents the type of message
type MessageType string

// Lifecycle events, delivered at most once per supervised run
const (
	EventServerReady   MessageType = "server-ready"
	EventServerCrashed MessageType = "server-crashed"
	EventServerError   MessageType = "server-error"
)

// Informational events
const (
	EventPhaseChanged      MessageType = "phase_changed"
	EventShutdownRequested MessageType = "shutdown_requested"
	EventPreflightKill     MessageType = "preflight_kill"
)

// Message represents a bus message
type Message struct {
	Type      MessageType
	Timestamp time.Time
	Data      interface{}
	Critical  bool
}

// ServerReady indicates the service answered its readiness endpoint
type ServerReady struct {
	Port     int
	Attempts int
	Duration time.Duration
}

// ServerCrashed indicates the service process terminated on its own.
// Code is nil when the exit code is unknown (e.g. killed by a signal).
type ServerCrashed struct {
	Code *int
}

// ServerError indicates the service could not be started or never became ready
type ServerError struct {
	Message string
}

// PhaseChanged indicates a supervisor state machine transition
type PhaseChanged struct {
	From string
	To   string
}

// ShutdownRequested indicates a shutdown trigger fired
type ShutdownRequested struct {
	Trigger string
}

// PreflightKill indicates a stale process holding the port was killed
type PreflightKill struct {
	PID  int
	Name string
}

// Bus handles pub/sub messaging
type Bus interface {
	Subscribe(ctx context.Context) <-chan Message
	Publish(msg Message)
	Close()
}

// bus implements the Bus interface with pub/sub messaging
type bus struct {
	cfg         *config.Config
	subscribers []*subscriber
	mu          sync.RWMutex
	closed      bool
	log         logger.Logger
}

// subscriber owns a delivery channel and the backlog of critical messages that did not fit it
type subscriber struct {
	ch      chan Message
	quit    chan struct{}
	mu       sync.Mutex
	backlog  []Message
	flushing bool
	wg       sync.WaitGroup
}

// New creates a new Bus
func New(cfg *config.Config, log logger.Logger) Bus {
	return &bus{
		cfg:         cfg,
		subscribers: make([]*subscriber, 0),
		log:         log,
	}
}

// Subscribe creates a new subscription channel, closed when ctx is done or the bus is closed
func (b *bus) Subscribe(ctx context.Context) <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch:   make(chan Message, b.cfg.Events.Buffer),
		quit: make(chan struct{}),
	}

	if b.closed {
		close(sub.ch)
		return sub.ch
	}

	b.subscribers = append(b.subscribers, sub)

	go func() {
		<-ctx.Done()
		b.unsubscribe(sub)
	}()

	return sub.ch
}

// Publish sends a message to all subscribers without waiting on them.
// A full subscriber drops non-critical messages; critical ones queue in a per-subscriber backlog,
// so every subscriber sees delivered messages in publish order.
func (b *bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	msg.Timestamp = time.Now()

	if b.log != nil {
		b.log.Debug().Msgf("%s %s", msg.Type, formatData(msg.Data))
	}

	for _, sub := range b.subscribers {
		sub.deliver(msg)
	}
}

// Close closes all subscriber channels
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for _, sub := range b.subscribers {
		sub.close()
	}

	b.subscribers = nil
}

func (b *bus) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)

			sub.close()

			break
		}
	}
}

// deliver sends msg directly while nothing is queued, otherwise behind the backlog
func (s *subscriber) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.backlog) == 0 {
		select {
		case s.ch <- msg:
			return
		default:
		}
	}

	if !msg.Critical {
		return
	}

	s.backlog = append(s.backlog, msg)

	if !s.flushing {
		s.flushing = true
		s.wg.Add(1)

		go s.flush()
	}
}

// flush drains the backlog in order until it is empty or the subscriber is closed
func (s *subscriber) flush() {
	defer s.wg.Done()

	for {
		s.mu.Lock()

		if len(s.backlog) == 0 {
			s.flushing = false
			s.mu.Unlock()

			return
		}

		msg := s.backlog[0]
		s.mu.Unlock()

		select {
		case s.ch <- msg:
		case <-s.quit:
			return
		}

		s.mu.Lock()
		s.backlog = s.backlog[1:]
		s.mu.Unlock()
	}
}

// close stops the flusher before closing the channel it sends on
func (s *subscriber) close() {
	close(s.quit)
	s.wg.Wait()
	close(s.ch)
}

func formatData(data interface{}) string {
	switch d := data.(type) {
	case ServerReady:
		return fmt.Sprintf("{port: %d, attempts: %d}", d.Port, d.Attempts)
	case ServerCrashed:
		if d.Code == nil {
			return "{code: null}"
		}

		return fmt.Sprintf("{code: %d}", *d.Code)
	case ServerError:
		return fmt.Sprintf("{message: %s}", d.Message)
	case PhaseChanged:
		return fmt.Sprintf("{%s -> %s}", d.From, d.To)
	case ShutdownRequested:
		return fmt.Sprintf("{trigger: %s}", d.Trigger)
	case PreflightKill:
		return fmt.Sprintf("{pid: %d, name: %s}", d.PID, d.Name)
	default:
		return fmt.Sprintf("%+v", data)
	}
}

// NoOp returns a no-op bus for when messaging is disabled
func NoOp() Bus {
	return &noOpBus{}
}

// noOpBus implements Bus interface with no-op methods for testing
type noOpBus struct{}

func (n *noOpBus) Subscribe(ctx context.Context) <-chan Message {
	ch := make(chan Message)

	go func() {
		<-ctx.Done()
		close(ch)
	}()

	return ch
}

func (n *noOpBus) Publish(msg Message) {}
func (n *noOpBus) Close()              {}
