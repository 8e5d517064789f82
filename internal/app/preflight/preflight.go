package preflight

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"

	"tether/internal/app/bus"
	"tether/internal/app/errors"
	"tether/internal/config"
	"tether/internal/config/logger"
)

// maxParallelKills bounds concurrent kills when several processes hold the port
const maxParallelKills = 4

// Result represents a process killed during preflight
type Result struct {
	Name string
	PID  int32
}

// Preflight makes sure nothing else answers on the service port before spawn
type Preflight interface {
	Check(ctx context.Context, port int) ([]Result, error)
}

// entry holds a process listening on the port; pid 0 means the owner is not visible to us
type entry struct {
	name string
	pid  int32
}

type scanFunc func(ctx context.Context, port int) ([]entry, error)
type killFunc func(pid int32) error

type preflight struct {
	cfg  *config.Config
	scan scanFunc
	kill killFunc
	bus  bus.Bus
	log  logger.Logger
}

// NewPreflight creates a new Preflight instance
func NewPreflight(cfg *config.Config, bus bus.Bus, log logger.Logger) Preflight {
	return &preflight{
		cfg:  cfg,
		scan: scan,
		kill: kill,
		bus:  bus,
		log:  log.WithComponent("PREFLIGHT"),
	}
}

// Check fails with ErrPortInUse when another process listens on port, unless killing is enabled.
// A scan failure is logged and treated as a free port.
func (p *preflight) Check(ctx context.Context, port int) ([]Result, error) {
	if !p.cfg.Preflight.Enabled {
		return nil, nil
	}

	holders, err := p.holders(ctx, port)
	if err != nil {
		p.log.Warn().Err(err).Msgf("Failed to scan listeners on port %d", port)
		return nil, nil
	}

	if len(holders) == 0 {
		return nil, nil
	}

	if !p.cfg.Preflight.Kill {
		return nil, fmt.Errorf("%w: %d (held by %s)", errors.ErrPortInUse, port, describe(holders))
	}

	for _, h := range holders {
		if h.pid == 0 {
			return nil, fmt.Errorf("%w: %d (owner not visible)", errors.ErrPortInUse, port)
		}
	}

	return p.killHolders(ctx, holders), nil
}

// holders returns distinct processes listening on port, excluding this one
func (p *preflight) holders(ctx context.Context, port int) ([]entry, error) {
	entries, err := p.scan(ctx, port)
	if err != nil {
		return nil, err
	}

	ownPID := int32(os.Getpid()) // #nosec G115 -- PID fits in int32
	seen := make(map[int32]bool, len(entries))
	result := make([]entry, 0, len(entries))

	for _, e := range entries {
		if e.pid == ownPID || (e.pid != 0 && seen[e.pid]) {
			continue
		}

		seen[e.pid] = true

		result = append(result, e)
	}

	return result, nil
}

// killHolders kills the holders concurrently; kill failures are logged and the entry still reported
func (p *preflight) killHolders(ctx context.Context, holders []entry) []Result {
	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(holders))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelKills)

	for _, h := range holders {
		if ctx.Err() != nil {
			p.log.Warn().Err(ctx.Err()).Msg("Context cancelled, stopping preflight kills")
			break
		}

		g.Go(func() error {
			p.log.Info().Msgf("Killing process '%s' (PID: %d) holding the service port", h.name, h.pid)

			p.bus.Publish(bus.Message{
				Type: bus.EventPreflightKill,
				Data: bus.PreflightKill{PID: int(h.pid), Name: h.name},
			})

			if err := p.kill(h.pid); err != nil {
				p.log.Warn().Err(err).Msgf("Failed to kill process %d", h.pid)
			}

			mu.Lock()
			results = append(results, Result{Name: h.name, PID: h.pid})
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].PID < results[j].PID })

	return results
}

func describe(holders []entry) string {
	h := holders[0]
	if h.pid == 0 {
		return "unknown process"
	}

	if len(holders) == 1 {
		return fmt.Sprintf("'%s' PID %d", h.name, h.pid)
	}

	return fmt.Sprintf("'%s' PID %d and %d more", h.name, h.pid, len(holders)-1)
}

// Owner returns the PID of a visible process listening on port, 0 when there is none
func Owner(ctx context.Context, port int) int32 {
	entries, err := scan(ctx, port)
	if err != nil {
		return 0
	}

	for _, e := range entries {
		if e.pid > 0 {
			return e.pid
		}
	}

	return 0
}

func scan(ctx context.Context, port int) ([]entry, error) {
	conns, err := net.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}

	results := make([]entry, 0)

	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port {
			continue
		}

		e := entry{pid: c.Pid}

		if c.Pid > 0 {
			if proc, err := process.NewProcessWithContext(ctx, c.Pid); err == nil {
				e.name, _ = proc.NameWithContext(ctx)
			}
		}

		results = append(results, e)
	}

	return results, nil
}

func kill(pid int32) error {
	// SIGTERM the process group first so children holding the socket go too
	if err := syscall.Kill(-int(pid), syscall.SIGTERM); err != nil {
		if err := syscall.Kill(int(pid), syscall.SIGTERM); err != nil {
			return nil
		}
	}

	deadline := time.After(config.PreFlightKillTimeout)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			_ = syscall.Kill(-int(pid), syscall.SIGKILL)
			_ = syscall.Kill(int(pid), syscall.SIGKILL)

			return nil
		case <-ticker.C:
			if err := syscall.Kill(int(pid), 0); err != nil {
				return nil
			}
		}
	}
}
