// Package log centralizes zerolog setup for the veloengine binary. Grounded
// on cmd/cryptorun/main.go's inline zerolog.ConsoleWriter initialization,
// pulled out into its own package so every command (cmd/veloengine and
// tests) gets identical output formatting without duplicating the setup.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. pretty selects the
// human-readable console writer (TTY/dev use); false emits line-delimited
// JSON suited to log aggregation in production.
func Init(level zerolog.Level, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	log.Logger = log.Output(w)
}

// ParseLevel maps a CLI --log-level flag value to a zerolog.Level, falling
// back to info on anything unrecognized.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
