package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tether/internal/app/errors"
)

// Output buffer size constants
const (
	// readerBufferSize is the read buffer size for service output (64KB)
	readerBufferSize = 64 * 1024
	// maxLineSize is the longest line forwarded as one event (4MB)
	maxLineSize = 4 * 1024 * 1024
	// drainTimeout bounds how long output is read after the child exited without a new line
	drainTimeout = 500 * time.Millisecond
)

// Kind categorizes an output event emitted by a child process
type Kind int

// Event kinds
const (
	Stdout Kind = iota
	Stderr
	Terminated
)

// String returns the stream label used in logs
func (k Kind) String() string {
	switch k {
	case Stdout:
		return "STDOUT"
	case Stderr:
		return "STDERR"
	case Terminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is one item of the child's output stream.
// Code is only set for Terminated and is nil when the process was killed by a signal.
type Event struct {
	Kind Kind
	Line string
	Code *int
}

// Process represents a running service process
type Process interface {
	Name() string
	PID() int
	Cmd() *exec.Cmd
	Done() <-chan struct{}
	Events() <-chan Event
	ExitCode() *int
}

// Params contains parameters for creating a new process
type Params struct {
	Name   string
	Cmd    *exec.Cmd
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Handle is a started process whose output is being pumped into its event stream
type Handle struct {
	name   string
	cmd    *exec.Cmd
	done   chan struct{}
	events chan Event

	// lines counts emitted output lines, used to detect an idle drain
	lines atomic.Int64

	mu   sync.Mutex
	code *int
}

// Start starts cmd with stdout and stderr connected to the event stream of the returned handle.
// Errors from exec are returned as is so callers can classify them.
func Start(name string, cmd *exec.Cmd) (*Handle, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w (stdout): %w", errors.ErrFailedToCreatePipe, err)
	}

	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, fmt.Errorf("%w (stderr): %w", errors.ErrFailedToCreatePipe, err)
	}

	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, err
	}

	// only the child keeps the write ends, so EOF follows the last writer
	closeAll(outW, errW)

	return New(Params{Name: name, Cmd: cmd, Stdout: outR, Stderr: errR}), nil
}

// New wraps an already started command and begins pumping its output.
// The event stream ends with exactly one Terminated event and is then closed;
// Done closes after that.
func New(p Params) *Handle {
	h := &Handle{
		name:   p.Name,
		cmd:    p.Cmd,
		done:   make(chan struct{}),
		events: make(chan Event),
	}

	go h.pump(p.Stdout, p.Stderr)

	return h
}

// Name returns the service name
func (h *Handle) Name() string {
	return h.name
}

// PID returns the OS process id, or 0 if the command never started
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}

	return h.cmd.Process.Pid
}

// Cmd returns the underlying exec command
func (h *Handle) Cmd() *exec.Cmd {
	return h.cmd
}

// Done returns a channel that closes when the process has been reaped and its output drained
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Events returns the ordered-per-stream output of the process
func (h *Handle) Events() <-chan Event {
	return h.events
}

// ExitCode returns the exit code once the process exited normally
func (h *Handle) ExitCode() *int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.code
}

// pump reads both streams while reaping the child. Once the child exited, output keeps draining
// until both streams hit EOF or stay idle for drainTimeout, since descendants may inherit the pipes.
func (h *Handle) pump(stdout, stderr io.ReadCloser) {
	defer close(h.done)
	defer close(h.events)

	var g errgroup.Group

	g.Go(func() error { return h.scan(stdout, Stdout) })
	g.Go(func() error { return h.scan(stderr, Stderr) })

	drained := make(chan error, 1)

	go func() { drained <- g.Wait() }()

	code := h.reap()

	h.mu.Lock()
	h.code = code
	h.mu.Unlock()

	scanErr := h.drain(drained, stdout, stderr)

	if scanErr != nil {
		h.events <- Event{Kind: Stderr, Line: scanErr.Error()}
	}

	h.events <- Event{Kind: Terminated, Code: code}
}

// reap waits for the child itself, not for its output
func (h *Handle) reap() *int {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	_ = h.cmd.Wait()

	return exitCode(h.cmd)
}

// drain waits for the scanners, closing the streams once no line arrived for drainTimeout
func (h *Handle) drain(drained <-chan error, streams ...io.ReadCloser) error {
	defer closeAll(streams...)

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()

	seen := h.lines.Load()

	for {
		select {
		case err := <-drained:
			return err
		case <-timer.C:
			if n := h.lines.Load(); n != seen {
				seen = n
				timer.Reset(drainTimeout)

				continue
			}

			closeAll(streams...)

			return <-drained
		}
	}
}

// scan forwards every line of r as an event of the given kind.
// Lines longer than maxLineSize are forwarded in chunks so the stream never stalls.
func (h *Handle) scan(r io.Reader, kind Kind) error {
	if r == nil {
		return nil
	}

	reader := bufio.NewReaderSize(r, readerBufferSize)

	var line []byte

	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if len(line) > 0 {
				h.emit(kind, line)
			}

			if err == io.EOF || errors.Is(err, os.ErrClosed) {
				return nil
			}

			return fmt.Errorf("reading %s of '%s': %w", kind, h.name, err)
		}

		line = append(line, chunk...)

		if isPrefix && len(line) < maxLineSize {
			continue
		}

		h.emit(kind, line)
		line = line[:0]
	}
}

func (h *Handle) emit(kind Kind, line []byte) {
	h.events <- Event{Kind: kind, Line: string(line)}
	h.lines.Add(1)
}

func closeAll[T io.Closer](closers ...T) {
	for _, c := range closers {
		if any(c) != nil {
			_ = c.Close()
		}
	}
}

// exitCode returns nil when the process did not exit on its own (e.g. killed by a signal)
func exitCode(cmd *exec.Cmd) *int {
	if cmd.ProcessState == nil {
		return nil
	}

	code := cmd.ProcessState.ExitCode()
	if code < 0 {
		return nil
	}

	return &code
}

// Wait blocks until the process is done or ctx is cancelled
func Wait(ctx context.Context, proc Process) error {
	select {
	case <-proc.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
