package health

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"tether/internal/app/errors"
	"tether/internal/app/monitor"
	"tether/internal/app/preflight"
	"tether/internal/config"
	"tether/internal/config/logger"
)

// StatusOK is reported whenever the service answered, whatever its status code
const StatusOK = "ok"

// Status is the health record of the service
type Status struct {
	Status     string  `json:"status" yaml:"status"`
	Port       int     `json:"port" yaml:"port"`
	StatusCode int     `json:"statusCode" yaml:"statusCode"`
	PID        int     `json:"pid,omitempty" yaml:"pid,omitempty"`
	CPU        float64 `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	MemoryMB   float64 `json:"memoryMb,omitempty" yaml:"memoryMb,omitempty"`
}

// Checker queries the service once
type Checker interface {
	Check(ctx context.Context) (Status, error)
}

type ownerFunc func(ctx context.Context, port int) int32

type checker struct {
	cfg     *config.Config
	client  *resty.Client
	monitor monitor.Monitor
	owner   ownerFunc
	log     logger.Logger
}

// NewChecker creates a Checker for the configured service
func NewChecker(cfg *config.Config, monitor monitor.Monitor, log logger.Logger) Checker {
	client := resty.New().
		SetTimeout(cfg.Readiness.Timeout).
		SetHeader("User-Agent", fmt.Sprintf("%s/%s", config.AppName, config.Version))

	return &checker{
		cfg:     cfg,
		client:  client,
		monitor: monitor,
		owner:   preflight.Owner,
		log:     log.WithComponent("HEALTH"),
	}
}

// Check performs one GET against the readiness URL. Any answer is "ok"; only a failed request is an error.
// Resource usage of the listening process is added when it can be sampled.
func (c *checker) Check(ctx context.Context) (Status, error) {
	url := c.cfg.ReadinessURL()

	resp, err := c.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %s: %w", errors.ErrHealthCheckFailed, url, err)
	}

	status := Status{
		Status:     StatusOK,
		Port:       c.cfg.Service.Port,
		StatusCode: resp.StatusCode(),
	}

	pid := int(c.owner(ctx, c.cfg.Service.Port))
	if pid <= 0 {
		return status, nil
	}

	status.PID = pid

	stats, err := c.monitor.GetStats(ctx, pid)
	if err != nil {
		c.log.Debug().Err(err).Msgf("Failed to sample PID %d", pid)
		return status, nil
	}

	status.CPU = stats.CPU
	status.MemoryMB = stats.MEM

	return status, nil
}
