package config

import "time"

// app constants
const (
	AppName        = "tether"
	AppDescription = "Supervises a backend service and reports when it is ready"
	ConfigFile     = "tether.yaml"
	EnvPrefix      = "TETHER"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	Version = "0.3.0"
)

// service constants
const (
	DefaultServiceName = "server"
	DefaultPort        = 8556
	DefaultPortEnv     = "PORT"
)

// readiness constants
const (
	DefaultReadinessPath     = "/"
	DefaultReadinessAttempts = 300
	DefaultReadinessInterval = 300 * time.Millisecond
	DefaultReadinessTimeout  = 3 * time.Second
)

// shutdown constants
const (
	ShutdownTimeout      = 5 * time.Second
	PreFlightKillTimeout = 3 * time.Second
)

// events constants
const (
	EventsBufferSize = 100
)
