// Package logging configures the global zerolog logger and the one-shot
// startup summary every binary emits.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger from the environment.
// GEMINI_LOG_LEVEL controls the level: debug, info, warn, error (default: info).
// Inside Lambda the output is JSON so CloudWatch can index fields; elsewhere
// it is a human-readable console writer on stderr.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("GEMINI_LOG_LEVEL")))

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// InitWriter is Init with an explicit console destination. The MCP server
// uses it because stdout carries the protocol.
func InitWriter(w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("GEMINI_LOG_LEVEL")))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, NoColor: true})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
