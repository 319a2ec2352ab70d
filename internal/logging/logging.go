// Package logging provides the structured logger used across the daemon.
//
// Every component receives its logger as an explicit constructor argument
// rather than reaching for a package-level global — see the "implicit
// global state" design note for why that deviates from a bare zerolog
// package-var.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the process-wide base logger. debug controls whether Debug
// level lines are emitted; callers derive scoped loggers from it with
// With().
func New(debug bool, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// ForWan returns a logger scoped to a single WAN, carrying its name and
// direction-agnostic context on every line.
func ForWan(base zerolog.Logger, wanName string) zerolog.Logger {
	return base.With().Str("wan", wanName).Logger()
}

// ForComponent tags every line emitted by a component (e.g. "steering",
// "transport", "scheduler").
func ForComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
