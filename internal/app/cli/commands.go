package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tether/internal/app/errors"
	"tether/internal/config"
)

// CommandType represents the type of CLI command
type CommandType int

// Command type values
const (
	CommandRun CommandType = iota
	CommandHealth
	CommandInit
	CommandVersion
	CommandHelp
)

// Output formats of the health command
const (
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Options contains the parsed command-line arguments
type Options struct {
	Type       CommandType
	ConfigPath string
	Output     string
	Force      bool
	DryRun     bool
}

// rootFlags holds flag values for the root command
type rootFlags struct {
	version bool
}

// Parse parses command-line args and returns an Options struct
func Parse(args []string) (*Options, error) {
	result := &Options{
		Type:       CommandRun,
		ConfigPath: config.ConfigFile,
		Output:     OutputJSON,
	}

	var flags rootFlags

	root := buildRootCommand(result, &flags)
	root.AddCommand(
		buildRunCommand(result),
		buildHealthCommand(result),
		buildInitCommand(result),
		buildVersionCommand(result),
	)

	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrUnknownCommand, err)
	}

	if flags.version {
		result.Type = CommandVersion
	}

	if result.Output != OutputJSON && result.Output != OutputYAML {
		return nil, fmt.Errorf("%w: %q", errors.ErrInvalidOutputFormat, result.Output)
	}

	return result, nil
}

// buildRootCommand creates the root cobra command
func buildRootCommand(result *Options, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   config.AppName,
		Short: config.AppDescription,
		Long: `Tether starts a single backend service, relays its output, waits until it
answers HTTP requests and makes sure it is killed exactly once on exit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			result.Type = CommandRun
		},
	}

	cmd.PersistentFlags().StringVarP(&result.ConfigPath, "config", "c", config.ConfigFile, "Path to the config file")
	cmd.Flags().BoolVarP(&flags.version, "version", "v", false, "Show version information")

	cmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		result.Type = CommandHelp
	})

	return cmd
}

// buildRunCommand creates the run subcommand
func buildRunCommand(result *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Aliases: []string{"r"},
		Short:   "Start the service and supervise it until interrupted",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			result.Type = CommandRun
		},
	}
}

// buildHealthCommand creates the health subcommand
func buildHealthCommand(result *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the running service once",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			result.Type = CommandHealth
		},
	}

	cmd.Flags().StringVarP(&result.Output, "output", "o", OutputJSON, "Output format (json|yaml)")

	return cmd
}

// buildInitCommand creates the init subcommand
func buildInitCommand(result *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "init",
		Aliases: []string{"i"},
		Short:   "Generate a tether.yaml template",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			result.Type = CommandInit
		},
	}

	cmd.Flags().BoolVarP(&result.Force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&result.DryRun, "dry-run", false, "Print the template instead of writing it")

	return cmd
}

// buildVersionCommand creates the version subcommand
func buildVersionCommand(result *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			result.Type = CommandVersion
		},
	}
}
