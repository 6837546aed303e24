// Package logging configures the structured, leveled logger shared by
// master and worker using github.com/rs/zerolog.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a component-scoped logger writing JSON lines to stdout.
func New(component string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("component", component).
		Logger()
}
