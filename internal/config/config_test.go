package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/internal/app/errors"
)

func Test_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultServiceName, cfg.Service.Name)
	assert.Equal(t, DefaultPort, cfg.Service.Port)
	assert.Equal(t, DefaultPortEnv, cfg.Service.PortEnv)
	assert.Equal(t, DefaultReadinessAttempts, cfg.Readiness.Attempts)
	assert.Equal(t, DefaultReadinessInterval, cfg.Readiness.Interval)
	assert.Equal(t, DefaultReadinessTimeout, cfg.Readiness.Timeout)
	assert.True(t, cfg.Preflight.Enabled)
	assert.Equal(t, ShutdownTimeout, cfg.Shutdown.Timeout)
	assert.Equal(t, EventsBufferSize, cfg.Events.Buffer)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, 1, cfg.Version)
	assert.NoError(t, cfg.Validate())
}

func Test_Load(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
		error   error
	}{
		{
			name: "no config file found - uses default",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultPort, cfg.Service.Port)
				assert.Equal(t, DefaultReadinessAttempts, cfg.Readiness.Attempts)
			},
		},
		{
			name: "valid config file",
			content: `version: 1
service:
  name: web
  command: node
  args: [server.js]
  env_file: .env.local
  port: 9000
readiness:
  path: health
  attempts: 10
  interval: 1s
  timeout: 2s
preflight:
  enabled: false
logging:
  level: debug
  format: json
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "web", cfg.Service.Name)
				assert.Equal(t, "node", cfg.Service.Command)
				assert.Equal(t, []string{"server.js"}, cfg.Service.Args)
				assert.Equal(t, ".env.local", cfg.Service.EnvFile)
				assert.Equal(t, 9000, cfg.Service.Port)
				assert.Equal(t, DefaultPortEnv, cfg.Service.PortEnv)
				assert.Equal(t, "/health", cfg.Readiness.Path)
				assert.Equal(t, 10, cfg.Readiness.Attempts)
				assert.Equal(t, time.Second, cfg.Readiness.Interval)
				assert.Equal(t, 2*time.Second, cfg.Readiness.Timeout)
				assert.False(t, cfg.Preflight.Enabled)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, ShutdownTimeout, cfg.Shutdown.Timeout)
			},
		},
		{
			name:    "environment overrides file",
			content: "service:\n  port: 9000\n",
			env:     map[string]string{"TETHER_SERVICE_PORT": "9100", "TETHER_READINESS_ATTEMPTS": "7"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9100, cfg.Service.Port)
				assert.Equal(t, 7, cfg.Readiness.Attempts)
			},
		},
		{
			name:    "invalid yaml",
			content: "service: [unclosed",
			error:   errors.ErrFailedToParseConfig,
		},
		{
			name:    "invalid port",
			content: "service:\n  port: 70000\n",
			error:   errors.ErrInvalidConfig,
		},
		{
			name:    "zero attempts",
			content: "readiness:\n  attempts: 0\n",
			error:   errors.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ConfigFile)
			if tt.content != "" {
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
			}

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(path)

			if tt.error != nil {
				assert.ErrorIs(t, err, tt.error)
				assert.Nil(t, cfg)

				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func Test_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		error  error
	}{
		{name: "defaults are valid", mutate: func(cfg *Config) {}},
		{name: "zero port", mutate: func(cfg *Config) { cfg.Service.Port = 0 }, error: errors.ErrInvalidPort},
		{name: "negative attempts", mutate: func(cfg *Config) { cfg.Readiness.Attempts = -1 }, error: errors.ErrInvalidReadinessAttempts},
		{name: "negative interval", mutate: func(cfg *Config) { cfg.Readiness.Interval = -time.Second }, error: errors.ErrInvalidReadinessInterval},
		{name: "zero interval allowed", mutate: func(cfg *Config) { cfg.Readiness.Interval = 0 }},
		{name: "zero timeout", mutate: func(cfg *Config) { cfg.Readiness.Timeout = 0 }, error: errors.ErrInvalidReadinessTimeout},
		{name: "zero shutdown timeout", mutate: func(cfg *Config) { cfg.Shutdown.Timeout = 0 }, error: errors.ErrInvalidShutdownTimeout},
		{name: "zero events buffer", mutate: func(cfg *Config) { cfg.Events.Buffer = 0 }, error: errors.ErrInvalidEventsBuffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.error == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.error)
			}
		})
	}
}

func Test_ReadinessURL(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http://localhost:8556/", cfg.ReadinessURL())

	cfg.Service.Port = 3000
	cfg.Readiness.Path = "/healthz"
	assert.Equal(t, "http://localhost:3000/healthz", cfg.ReadinessURL())
}
