// Package logtrace provides logging utilities for the CLI.
// It integrates with zerolog for structured logging on stderr so that
// diagnostic output never interleaves with command output on stdout.
package logtrace

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the global logger with Unix timestamp format.
// Configures zerolog to output to stderr with timestamps. The default
// level is warn so routine requests stay quiet; TEXTPORT_DEBUG=1 lowers
// it to debug for troubleshooting.
func InitLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.WarnLevel
	if os.Getenv("TEXTPORT_DEBUG") == "1" {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
