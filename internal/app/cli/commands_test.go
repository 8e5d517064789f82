package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/internal/app/errors"
	"tether/internal/config"
)

func Test_Parse(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected Options
	}{
		{
			name:     "no args runs the service",
			args:     []string{},
			expected: Options{Type: CommandRun, ConfigPath: config.ConfigFile, Output: OutputJSON},
		},
		{
			name:     "run command",
			args:     []string{"run"},
			expected: Options{Type: CommandRun, ConfigPath: config.ConfigFile, Output: OutputJSON},
		},
		{
			name:     "run alias with config",
			args:     []string{"r", "--config", "dev.yaml"},
			expected: Options{Type: CommandRun, ConfigPath: "dev.yaml", Output: OutputJSON},
		},
		{
			name:     "short config flag before command",
			args:     []string{"-c", "dev.yaml", "health"},
			expected: Options{Type: CommandHealth, ConfigPath: "dev.yaml", Output: OutputJSON},
		},
		{
			name:     "health with yaml output",
			args:     []string{"health", "-o", "yaml"},
			expected: Options{Type: CommandHealth, ConfigPath: config.ConfigFile, Output: OutputYAML},
		},
		{
			name:     "init with flags",
			args:     []string{"init", "--force", "--dry-run"},
			expected: Options{Type: CommandInit, ConfigPath: config.ConfigFile, Output: OutputJSON, Force: true, DryRun: true},
		},
		{
			name:     "init alias",
			args:     []string{"i"},
			expected: Options{Type: CommandInit, ConfigPath: config.ConfigFile, Output: OutputJSON},
		},
		{
			name:     "version command",
			args:     []string{"version"},
			expected: Options{Type: CommandVersion, ConfigPath: config.ConfigFile, Output: OutputJSON},
		},
		{
			name:     "version flag",
			args:     []string{"--version"},
			expected: Options{Type: CommandVersion, ConfigPath: config.ConfigFile, Output: OutputJSON},
		},
		{
			name:     "help flag",
			args:     []string{"--help"},
			expected: Options{Type: CommandHelp, ConfigPath: config.ConfigFile, Output: OutputJSON},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := Parse(tt.args)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, *opts)
		})
	}
}

func Test_Parse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected error
	}{
		{name: "unknown command", args: []string{"deploy"}, expected: errors.ErrUnknownCommand},
		{name: "unknown flag", args: []string{"--profile", "x"}, expected: errors.ErrUnknownCommand},
		{name: "unexpected argument", args: []string{"run", "extra"}, expected: errors.ErrUnknownCommand},
		{name: "invalid output", args: []string{"health", "-o", "xml"}, expected: errors.ErrInvalidOutputFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := Parse(tt.args)

			assert.Nil(t, opts)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}
