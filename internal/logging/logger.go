// Package logging configures the process-wide zerolog logger and hands out
// component-tagged child loggers.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var root zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	root = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Setup configures the global log level and output format.
// Called once from main before any component starts.
func Setup(level string, jsonFormat bool) {
	zerolog.SetGlobalLevel(parseLevel(level))

	if jsonFormat {
		root = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		root = zerolog.New(w).With().Timestamp().Logger()
	}
}

// Component returns a child logger tagged with the component name
func Component(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
