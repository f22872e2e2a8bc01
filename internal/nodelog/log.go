// Package nodelog installs a process-wide structured logger: a
// package-level zerolog.Logger that defaults to a console writer and can
// be swapped by the CLI entry point.
package nodelog

import (
	"os"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// Set installs the process-wide logger, e.g. with a different backend or
// level selected by the --logging flag.
func Set(l zerolog.Logger) { logger = l }

// Get returns the process-wide logger.
func Get() *zerolog.Logger { return &logger }

// WithApplication returns a child logger tagging every line with the owning
// application name.
func WithApplication(name string) zerolog.Logger {
	return logger.With().Str("application", name).Logger()
}

// WithSlave returns a child logger tagging every line with the owning
// application and slave id, used by the slave state machine and its
// fetcher to attribute worker output and lifecycle events.
func WithSlave(application, slaveID string) zerolog.Logger {
	return logger.With().Str("application", application).Str("slave_id", slaveID).Logger()
}
