package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tether/internal/app/errors"
)

// Config represents the application configuration
type Config struct {
	Service   Service   `yaml:"service" mapstructure:"service"`
	Readiness Readiness `yaml:"readiness" mapstructure:"readiness"`
	Preflight Preflight `yaml:"preflight" mapstructure:"preflight"`
	Shutdown  struct {
		Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	} `yaml:"shutdown" mapstructure:"shutdown"`
	Events struct {
		Buffer int `yaml:"buffer" mapstructure:"buffer"`
	} `yaml:"events" mapstructure:"events"`
	Logging struct {
		Level  string `yaml:"level" mapstructure:"level"`
		Format string `yaml:"format" mapstructure:"format"`
	} `yaml:"logging" mapstructure:"logging"`
	Report struct {
		DSN string `yaml:"dsn" mapstructure:"dsn"`
	} `yaml:"report" mapstructure:"report"`
	Version int `yaml:"version" mapstructure:"version"`
}

// Service describes the supervised executable
type Service struct {
	Name    string   `yaml:"name" mapstructure:"name"`
	Command string   `yaml:"command" mapstructure:"command"`
	Args    []string `yaml:"args" mapstructure:"args"`
	Dir     string   `yaml:"dir" mapstructure:"dir"`
	EnvFile string   `yaml:"env_file" mapstructure:"env_file"`
	Port    int      `yaml:"port" mapstructure:"port"`
	PortEnv string   `yaml:"port_env" mapstructure:"port_env"`
}

// Readiness represents the readiness polling budget
type Readiness struct {
	Path     string        `yaml:"path" mapstructure:"path"`
	Attempts int           `yaml:"attempts" mapstructure:"attempts"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Preflight controls the port check performed before spawning
type Preflight struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Kill    bool `yaml:"kill" mapstructure:"kill"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Service: Service{
			Name:    DefaultServiceName,
			Port:    DefaultPort,
			PortEnv: DefaultPortEnv,
		},
		Readiness: Readiness{
			Path:     DefaultReadinessPath,
			Attempts: DefaultReadinessAttempts,
			Interval: DefaultReadinessInterval,
			Timeout:  DefaultReadinessTimeout,
		},
		Preflight: Preflight{
			Enabled: true,
		},
		Version: 1,
	}

	cfg.Shutdown.Timeout = ShutdownTimeout
	cfg.Events.Buffer = EventsBufferSize
	cfg.Logging.Level = DefaultLogLevel
	cfg.Logging.Format = DefaultLogFormat

	return cfg
}

// Load reads the configuration file at path, falling back to defaults when the file does not exist.
// Every key can be overridden from the environment, e.g. TETHER_SERVICE_PORT.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigFile
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToReadConfig, err)
	}

	if err == nil {
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrFailedToParseConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrFailedToParseConfig, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}

	return cfg, nil
}

// setDefaults registers every known key so environment overrides are picked up by Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.command", cfg.Service.Command)
	v.SetDefault("service.args", cfg.Service.Args)
	v.SetDefault("service.dir", cfg.Service.Dir)
	v.SetDefault("service.env_file", cfg.Service.EnvFile)
	v.SetDefault("service.port", cfg.Service.Port)
	v.SetDefault("service.port_env", cfg.Service.PortEnv)

	v.SetDefault("readiness.path", cfg.Readiness.Path)
	v.SetDefault("readiness.attempts", cfg.Readiness.Attempts)
	v.SetDefault("readiness.interval", cfg.Readiness.Interval)
	v.SetDefault("readiness.timeout", cfg.Readiness.Timeout)

	v.SetDefault("preflight.enabled", cfg.Preflight.Enabled)
	v.SetDefault("preflight.kill", cfg.Preflight.Kill)

	v.SetDefault("shutdown.timeout", cfg.Shutdown.Timeout)
	v.SetDefault("events.buffer", cfg.Events.Buffer)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("report.dsn", cfg.Report.DSN)
	v.SetDefault("version", cfg.Version)
}

// ApplyDefaults fills values that may be blanked out by the config file
func (c *Config) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = DefaultServiceName
	}

	if c.Service.PortEnv == "" {
		c.Service.PortEnv = DefaultPortEnv
	}

	if c.Readiness.Path == "" {
		c.Readiness.Path = DefaultReadinessPath
	}

	if !strings.HasPrefix(c.Readiness.Path, "/") {
		c.Readiness.Path = "/" + c.Readiness.Path
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return errors.ErrInvalidPort
	}

	if err := c.validateReadiness(); err != nil {
		return err
	}

	if c.Shutdown.Timeout <= 0 {
		return errors.ErrInvalidShutdownTimeout
	}

	if c.Events.Buffer <= 0 {
		return errors.ErrInvalidEventsBuffer
	}

	return nil
}

// validateReadiness validates the readiness budget
func (c *Config) validateReadiness() error {
	r := c.Readiness

	if r.Attempts <= 0 {
		return errors.ErrInvalidReadinessAttempts
	}

	if r.Interval < 0 {
		return errors.ErrInvalidReadinessInterval
	}

	if r.Timeout <= 0 {
		return errors.ErrInvalidReadinessTimeout
	}

	return nil
}

// ReadinessURL returns the URL polled for readiness and queried for health
func (c *Config) ReadinessURL() string {
	return fmt.Sprintf("http://localhost:%d%s", c.Service.Port, c.Readiness.Path)
}
