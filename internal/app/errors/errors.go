package errors

import (
	"errors"
)

var (
	ErrFailedToReadConfig  = errors.New("failed to read config file")
	ErrFailedToParseConfig = errors.New("failed to parse config file")
	ErrInvalidConfig       = errors.New("invalid configuration")

	ErrCommandRequired          = errors.New("service command is required")
	ErrInvalidPort              = errors.New("service port must be between 1 and 65535")
	ErrInvalidReadinessAttempts = errors.New("readiness attempts must be greater than 0")
	ErrInvalidReadinessInterval = errors.New("readiness interval must not be negative")
	ErrInvalidReadinessTimeout  = errors.New("readiness timeout must be greater than 0")
	ErrInvalidShutdownTimeout   = errors.New("shutdown timeout must be greater than 0")
	ErrInvalidEventsBuffer      = errors.New("events buffer must be greater than 0")

	ErrFailedToGetWorkingDir    = errors.New("failed to get working directory")
	ErrServiceDirectoryNotExist = errors.New("service directory does not exist")
	ErrFailedToLoadEnvFile      = errors.New("failed to load env file")
	ErrFailedToCreatePipe       = errors.New("failed to create pipe")
	ErrFailedToStartCommand     = errors.New("failed to start command")
	ErrExecutableNotFound       = errors.New("executable not found")
	ErrAlreadyStarted           = errors.New("service already started")
	ErrPortInUse                = errors.New("port is already in use")
	ErrInstanceLocked           = errors.New("another supervisor owns this port")

	ErrReadinessTimeout         = errors.New("readiness check timed out")
	ErrFailedToCreateRequest    = errors.New("failed to create request")
	ErrProcessCrashed           = errors.New("service process terminated")
	ErrFailedToTerminateProcess = errors.New("failed to terminate process")

	ErrHealthCheckFailed = errors.New("health check failed")

	ErrConfigFileExists    = errors.New("config file already exists")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrInvalidOutputFormat = errors.New("output format must be json or yaml")
)

var (
	As  = errors.As
	Is  = errors.Is
	New = errors.New
)
