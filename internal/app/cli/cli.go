//go:generate mockgen -source=cli.go -destination=cli_mock.go -package=cli
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.yaml.in/yaml/v3"

	"tether/internal/app/bus"
	"tether/internal/app/colors"
	"tether/internal/app/coordinator"
	"tether/internal/app/errors"
	"tether/internal/app/generator"
	"tether/internal/app/health"
	"tether/internal/config"
	"tether/internal/config/logger"
)

// CLI defines the interface for cli operations
type CLI interface {
	Execute() (int, error)
}

// notifyFunc subscribes to termination signals and returns an unsubscribe function
type notifyFunc func() (<-chan os.Signal, func())

// cli represents the command-line interface for the application
type cli struct {
	opts        *Options
	cfg         *config.Config
	coordinator coordinator.Coordinator
	checker     health.Checker
	generator   generator.Generator
	bus         bus.Bus
	out         io.Writer
	palette     *colors.Palette
	notify      notifyFunc
	log         logger.Logger
}

// NewCLI creates a new cli instance
func NewCLI(
	opts *Options,
	cfg *config.Config,
	coord coordinator.Coordinator,
	checker health.Checker,
	gen generator.Generator,
	b bus.Bus,
	log logger.Logger,
) CLI {
	return &cli{
		opts:        opts,
		cfg:         cfg,
		coordinator: coord,
		checker:     checker,
		generator:   gen,
		bus:         b,
		out:         os.Stdout,
		palette:     colors.New(os.Stdout),
		notify:      notifySignals,
		log:         log,
	}
}

// Execute runs the parsed command and returns the process exit code
func (c *cli) Execute() (int, error) {
	switch c.opts.Type {
	case CommandRun:
		return c.handleRun()
	case CommandHealth:
		return c.handleHealth()
	case CommandInit:
		return c.handleInit()
	case CommandVersion:
		return c.handleVersion()
	case CommandHelp:
		return c.handleHelp()
	default:
		return c.handleUnknown()
	}
}

// handleRun starts the service and blocks until it is terminated.
// SIGINT is a user shutdown, SIGTERM an application exit; a crash ends the run with exit code 1.
func (c *cli) handleRun() (int, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := c.bus.Subscribe(ctx)

	signals, stop := c.notify()
	defer stop()

	c.printf("%s %s\n", c.palette.Title(config.AppName), c.palette.Muted(fmt.Sprintf("starting '%s', waiting for port %d", c.cfg.Service.Name, c.cfg.Service.Port)))

	if err := c.coordinator.Start(ctx); err != nil {
		c.printf("%s %v\n", c.palette.Error(colors.SymbolFailed+" Error:"), err)
		_ = c.coordinator.Shutdown(ctx, coordinator.TriggerRequest)

		return 1, err
	}

	var result error

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}

			if crash := c.render(msg); crash != nil {
				result = crash
				_ = c.coordinator.Shutdown(ctx, coordinator.TriggerRequest)
			}
		case sig := <-signals:
			trigger := coordinator.TriggerUser
			if sig == syscall.SIGTERM {
				trigger = coordinator.TriggerExit
			}

			c.log.Debug().Msgf("Received %s", sig)

			if err := c.coordinator.Shutdown(ctx, trigger); err != nil {
				c.log.Warn().Err(err).Msg("Shutdown interrupted")
			}
		case <-c.coordinator.Terminated():
			if result != nil {
				return 1, result
			}

			return 0, nil
		}
	}
}

// render prints a bus message and returns a non-nil error for a crash
func (c *cli) render(msg bus.Message) error {
	switch data := msg.Data.(type) {
	case bus.ServerReady:
		c.printf("%s %s %s\n",
			c.palette.Success(colors.SymbolReady),
			fmt.Sprintf("server ready on port %s", c.palette.Primary(fmt.Sprint(data.Port))),
			c.palette.Muted(fmt.Sprintf("(%d attempts, %s)", data.Attempts, data.Duration.Round(time.Millisecond))))
	case bus.ServerError:
		c.printf("%s %s\n", c.palette.Warning(colors.SymbolWarning+" server error:"), data.Message)
	case bus.ServerCrashed:
		code := "none"
		if data.Code != nil {
			code = fmt.Sprint(*data.Code)
		}

		c.printf("%s %s\n", c.palette.Error(colors.SymbolFailed+" server crashed"), c.palette.Muted("(code: "+code+")"))

		return fmt.Errorf("%w with code: %s", errors.ErrProcessCrashed, code)
	case bus.PreflightKill:
		c.printf("%s %s\n", c.palette.Muted(colors.SymbolProgress), c.palette.Muted(fmt.Sprintf("killed '%s' (PID %d) holding the port", data.Name, data.PID)))
	}

	return nil
}

// handleHealth queries the service once and prints the status record
func (c *cli) handleHealth() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Readiness.Timeout+time.Second)
	defer cancel()

	status, err := c.checker.Check(ctx)
	if err != nil {
		c.printf("%s %v\n", c.palette.Error("Error:"), err)
		return 1, err
	}

	data, err := encodeStatus(status, c.opts.Output)
	if err != nil {
		return 1, err
	}

	c.printf("%s", data)

	return 0, nil
}

func encodeStatus(status health.Status, format string) ([]byte, error) {
	if format == OutputYAML {
		return yaml.Marshal(status)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}

// handleInit writes a config template next to the configured path
func (c *cli) handleInit() (int, error) {
	opts := generator.DefaultOptions()
	opts.ServiceName = c.cfg.Service.Name
	opts.Port = c.cfg.Service.Port

	if c.cfg.Service.Command != "" {
		opts.Command = c.cfg.Service.Command
	}

	if err := c.generator.Generate(opts, c.opts.ConfigPath, c.opts.Force, c.opts.DryRun); err != nil {
		c.printf("%s %v\n", c.palette.Error("Error:"), err)
		return 1, err
	}

	return 0, nil
}

// handleVersion displays version information
func (c *cli) handleVersion() (int, error) {
	c.printf("%s %s\n%s\n", c.palette.Title(config.AppName), c.palette.Version("v"+config.Version), c.palette.Muted(config.AppDescription))
	return 0, nil
}

// handleHelp displays usage information
func (c *cli) handleHelp() (int, error) {
	c.printf("%s %s\n%s\n\n", c.palette.Title(config.AppName), c.palette.Version("v"+config.Version), c.palette.Muted(config.AppDescription))
	c.printf("Usage:\n")
	c.printf("  %-28s %s\n", c.palette.Primary("tether [run]"), "Start and supervise the service")
	c.printf("  %-28s %s\n", c.palette.Primary("tether health [-o json|yaml]"), "Query the running service once")
	c.printf("  %-28s %s\n", c.palette.Primary("tether init [--force] [--dry-run]"), "Generate tether.yaml")
	c.printf("  %-28s %s\n\n", c.palette.Primary("tether version"), "Show version")
	c.printf("Flags:\n")
	c.printf("  %-28s %s\n", c.palette.Primary("-c, --config <path>"), "Config file (default tether.yaml)")

	return 0, nil
}

// handleUnknown handles unknown commands
func (c *cli) handleUnknown() (int, error) {
	c.printf("%s Unknown command.\n", c.palette.Error("Error:"))
	return 1, errors.ErrUnknownCommand
}

func (c *cli) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func notifySignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	return ch, func() { signal.Stop(ch) }
}
