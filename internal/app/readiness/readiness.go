package readiness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"tether/internal/app/errors"
	"tether/internal/config"
	"tether/internal/config/logger"
)

// drainLimit bounds how much of a response body is read so the connection can be reused
const drainLimit = 4 * 1024

// Target describes what to poll and the polling budget
type Target struct {
	URL      string
	Port     int
	Attempts int
	Interval time.Duration
	Timeout  time.Duration
}

// Result describes a successful probe
type Result struct {
	Attempts int
	Elapsed  time.Duration
}

// TimeoutError is returned when every attempt failed
type TimeoutError struct {
	URL      string
	Port     int
	Attempts int
	Budget   time.Duration
	Last     error
}

// Error describes the target, the budget and the attempt count
func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("server not ready after %.0fs on port %d (%d attempts against %s)",
		e.Budget.Seconds(), e.Port, e.Attempts, e.URL)

	if e.Last != nil {
		msg = fmt.Sprintf("%s: last error: %v", msg, e.Last)
	}

	return msg
}

// Unwrap exposes ErrReadinessTimeout and the last attempt error
func (e *TimeoutError) Unwrap() []error {
	if e.Last == nil {
		return []error{errors.ErrReadinessTimeout}
	}

	return []error{errors.ErrReadinessTimeout, e.Last}
}

// Prober polls an HTTP endpoint until it answers
//
//go:generate mockgen -source=readiness.go -destination=readiness_mock.go -package=readiness
type Prober interface {
	Probe(ctx context.Context, target Target) (Result, error)
}

// prober implements Prober over net/http
type prober struct {
	client *http.Client
	log    logger.Logger
}

// NewProber creates a new readiness prober
func NewProber(log logger.Logger) Prober {
	return &prober{
		client: &http.Client{
			// a redirect already proves the server is answering
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log.WithComponent("READINESS"),
	}
}

// TargetFromConfig builds the readiness target of the configured service
func TargetFromConfig(cfg *config.Config) Target {
	return Target{
		URL:      cfg.ReadinessURL(),
		Port:     cfg.Service.Port,
		Attempts: cfg.Readiness.Attempts,
		Interval: cfg.Readiness.Interval,
		Timeout:  cfg.Readiness.Timeout,
	}
}

// Probe issues up to target.Attempts sequential requests, returning on the first 2xx/3xx answer.
// Cancelling ctx abandons the remaining attempts and returns ctx.Err().
func (p *prober) Probe(ctx context.Context, target Target) (Result, error) {
	start := time.Now()

	var last error

	for attempt := 1; attempt <= target.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempt - 1, Elapsed: time.Since(start)}, err
		}

		last = p.attempt(ctx, target)
		if last == nil {
			result := Result{Attempts: attempt, Elapsed: time.Since(start)}
			p.log.Info().Msgf("Server ready after %d attempts (~%.1fs)", result.Attempts, result.Elapsed.Seconds())

			return result, nil
		}

		p.log.Debug().Err(last).Int("attempt", attempt).Msgf("Server on port %d not ready yet", target.Port)

		if attempt == target.Attempts {
			break
		}

		timer := time.NewTimer(target.Interval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, ctx.Err()
		case <-timer.C:
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{Attempts: target.Attempts, Elapsed: time.Since(start)}, err
	}

	return Result{Attempts: target.Attempts, Elapsed: time.Since(start)}, &TimeoutError{
		URL:      target.URL,
		Port:     target.Port,
		Attempts: target.Attempts,
		Budget:   time.Duration(target.Attempts) * target.Interval,
		Last:     last,
	}
}

// attempt performs a single bounded request
func (p *prober) attempt(ctx context.Context, target Target) error {
	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrFailedToCreateRequest, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}

	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
