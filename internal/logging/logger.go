// Package logging builds the zerolog logger used by the CLI.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const defaultLevel = zerolog.InfoLevel

// Options configures NewLogger.
type Options struct {
	// Level is a zerolog level name. Empty means info.
	Level string
	// Pretty selects the human readable console format.
	Pretty bool
	// Out defaults to stderr so that command output on stdout stays clean.
	Out io.Writer
}

// NewLogger initializes and configures a new zerolog.Logger.
func NewLogger(opts Options) (zerolog.Logger, error) {
	level := defaultLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("failed to parse log level '%s': %w", opts.Level, err)
		}
		level = l
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Logger().
		Level(level), nil
}

// LevelFromFlags maps the -v count and -q flag to a level name.
func LevelFromFlags(verbosity int, quiet bool) string {
	switch {
	case quiet:
		return zerolog.WarnLevel.String()
	case verbosity >= 2:
		return zerolog.TraceLevel.String()
	case verbosity == 1:
		return zerolog.DebugLevel.String()
	default:
		return defaultLevel.String()
	}
}
