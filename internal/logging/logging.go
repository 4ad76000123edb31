// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger at the given level. Console output is
// human readable; json switches to structured lines for log shippers.
func Setup(level string, json bool) zerolog.Logger {
	return SetupWriter(os.Stderr, level, json)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string, json bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := w
	if !json {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return log.Logger
}

// Nop is a silent logger for tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
