package main

import (
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"tether/internal/app"
	"tether/internal/app/cli"
	"tether/internal/config"
	"tether/internal/config/logger"
)

// main is the entry point for the application
func main() {
	os.Exit(runApp(os.Args[1:]))
}

// runApp parses the command line, loads the configuration and runs the fx application
func runApp(args []string) int {
	opts, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Run exits the process itself when the command asks for a non-zero code
	createApp(cfg, opts).Run()

	return 0
}

// loadConfig reads the configuration. Commands that do not supervise fall back to defaults.
func loadConfig(opts *cli.Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err == nil {
		return cfg, nil
	}

	if opts.Type == cli.CommandRun || opts.Type == cli.CommandHealth {
		return nil, err
	}

	return config.DefaultConfig(), nil
}

// createApp creates the FX application with the given config and options
func createApp(cfg *config.Config, opts *cli.Options) *fx.App {
	return fx.New(
		fx.WithLogger(createFxLogger(cfg)),
		fx.Supply(cfg, opts),
		app.Module,
	)
}

// createFxLogger returns an FX logger based on the config
func createFxLogger(cfg *config.Config) func() fxevent.Logger {
	return func() fxevent.Logger {
		if cfg.Logging.Level == logger.DebugLevel {
			return &fxevent.ConsoleLogger{W: os.Stdout}
		}

		return fxevent.NopLogger
	}
}
