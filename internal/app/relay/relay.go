package relay

import (
	"strconv"
	"strings"

	"tether/internal/app/process"
	"tether/internal/config/logger"
)

// ExitFunc receives the exit code of a terminated process, nil when unknown
type ExitFunc func(code *int)

// Relay forwards a child's output stream to the log sink
type Relay interface {
	Run(name string, events <-chan process.Event, onExit ExitFunc)
}

type relay struct {
	log logger.Logger
}

// NewRelay creates a new output relay
func NewRelay(log logger.Logger) Relay {
	return &relay{log: log.WithComponent("RELAY")}
}

// Run consumes events until the stream closes. It blocks, so callers run it in its own goroutine.
func (r *relay) Run(name string, events <-chan process.Event, onExit ExitFunc) {
	for ev := range events {
		switch ev.Kind {
		case process.Stdout:
			r.log.Info().
				Str("service", name).
				Str("stream", ev.Kind.String()).
				Msg(trim(ev.Line))
		case process.Stderr:
			r.log.Warn().
				Str("service", name).
				Str("stream", ev.Kind.String()).
				Msg(trim(ev.Line))
		case process.Terminated:
			event := r.log.Error().Str("service", name)
			if ev.Code != nil {
				event = event.Int("code", *ev.Code)
			}

			event.Msgf("Process '%s' terminated with code: %s", name, formatCode(ev.Code))

			if onExit != nil {
				onExit(ev.Code)
			}
		}
	}
}

func trim(line string) string {
	return strings.TrimRight(line, " \t\r\n")
}

func formatCode(code *int) string {
	if code == nil {
		return "none"
	}

	return strconv.Itoa(*code)
}
