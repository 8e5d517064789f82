package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"tether/internal/app/bus"
	"tether/internal/config"
	"tether/internal/config/logger"
)

// flushTimeout bounds how long Stop waits for queued reports
const flushTimeout = 2 * time.Second

// Reporter forwards crashes and startup failures to Sentry
type Reporter interface {
	Start()
	Stop()
}

type reporter struct {
	cfg    *config.Config
	hub    *sentry.Hub
	bus    bus.Bus
	log    logger.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

type beforeSendFunc func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event

// NewReporter creates a Reporter; without a DSN it does nothing
func NewReporter(cfg *config.Config, b bus.Bus, log logger.Logger) (Reporter, error) {
	return newReporter(cfg, b, log, nil)
}

func newReporter(cfg *config.Config, b bus.Bus, log logger.Logger, beforeSend beforeSendFunc) (Reporter, error) {
	log = log.WithComponent("REPORT")

	if cfg.Report.DSN == "" {
		log.Debug().Msg("Crash reporting disabled")
		return noop{}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:        cfg.Report.DSN,
		Release:    fmt.Sprintf("%s@%s", config.AppName, config.Version),
		BeforeSend: beforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create crash reporter: %w", err)
	}

	scope := sentry.NewScope()
	scope.SetTag("service", cfg.Service.Name)
	scope.SetTag("port", strconv.Itoa(cfg.Service.Port))

	return &reporter{
		cfg: cfg,
		hub: sentry.NewHub(client, scope),
		bus: b,
		log: log,
	}, nil
}

// Start subscribes to the bus; events published after Start returns are reported
func (r *reporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())

	r.cancel = cancel
	r.done = make(chan struct{})

	msgs := r.bus.Subscribe(ctx)

	go func() {
		defer close(r.done)

		for msg := range msgs {
			r.handle(msg)
		}
	}()
}

// Stop unsubscribes and flushes pending reports
func (r *reporter) Stop() {
	if r.cancel == nil {
		return
	}

	r.cancel()
	<-r.done

	if !r.hub.Flush(flushTimeout) {
		r.log.Warn().Msg("Crash reports not flushed in time")
	}
}

func (r *reporter) handle(msg bus.Message) {
	var text string

	switch data := msg.Data.(type) {
	case bus.ServerCrashed:
		code := "none"
		if data.Code != nil {
			code = strconv.Itoa(*data.Code)
		}

		text = fmt.Sprintf("service '%s' terminated with code: %s", r.cfg.Service.Name, code)
	case bus.ServerError:
		text = fmt.Sprintf("service '%s' failed: %s", r.cfg.Service.Name, data.Message)
	default:
		return
	}

	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = text
	event.Tags = map[string]string{"event": string(msg.Type)}

	if id := r.hub.CaptureEvent(event); id != nil {
		r.log.Debug().Msgf("Reported %s as %s", msg.Type, *id)
	}
}

type noop struct{}

func (noop) Start() {}
func (noop) Stop()  {}
