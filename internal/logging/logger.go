package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// STUDIO_LOG_LEVEL controls the log level: trace, debug, info, warn, error (default: info).
// STUDIO_LOG_FORMAT=json writes raw JSON lines instead of console output, which is
// what CloudWatch expects from the Lambda build.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("STUDIO_LOG_LEVEL")))
	zerolog.TimeFieldFormat = time.RFC3339

	if os.Getenv("STUDIO_LOG_FORMAT") == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
