package app

import (
	"go.uber.org/fx"

	"tether/internal/app/bus"
	"tether/internal/app/cli"
	"tether/internal/app/coordinator"
	"tether/internal/app/generator"
	"tether/internal/app/health"
	"tether/internal/app/instance"
	"tether/internal/app/lifecycle"
	"tether/internal/app/monitor"
	"tether/internal/app/preflight"
	"tether/internal/app/readiness"
	"tether/internal/app/relay"
	"tether/internal/app/report"
	"tether/internal/app/supervisor"
	"tether/internal/config/logger"
)

// Module wires the application. Stop hooks run in reverse order: the command finishes first,
// then the coordinator terminates the service, then reports are flushed and the bus is closed.
var Module = fx.Options(
	logger.Module,
	bus.Module,
	report.Module,
	lifecycle.Module,
	supervisor.Module,
	relay.Module,
	readiness.Module,
	preflight.Module,
	instance.Module,
	monitor.Module,
	health.Module,
	generator.Module,
	coordinator.Module,
	cli.Module,
	fx.Provide(NewApp),
	fx.Invoke(Register),
)
