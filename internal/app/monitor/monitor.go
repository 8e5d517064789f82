package monitor

import (
	"context"
	"math"

	"github.com/shirou/gopsutil/v4/process"
)

// Stats contains resource usage of the supervised process
type Stats struct {
	CPU float64 // percent since process start
	MEM float64 // resident set size in MB
}

// Monitor samples resource usage of a PID
type Monitor interface {
	GetStats(ctx context.Context, pid int) (Stats, error)
}

type monitor struct{}

// NewMonitor creates a new Monitor instance
func NewMonitor() Monitor {
	return &monitor{}
}

// GetStats returns zero Stats for PIDs outside the valid range, an error when the process is gone
func (m *monitor) GetStats(ctx context.Context, pid int) (Stats, error) {
	if pid <= 0 || pid > math.MaxInt32 {
		return Stats{}, nil
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115 -- PID range checked above
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{}

	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPU = cpu
	}

	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
		stats.MEM = float64(mem.RSS) / 1024 / 1024
	}

	return stats, nil
}
