package helpers

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
)

// SetupLogging sets the global level and switches to console output on a
// terminal or when pretty output is requested.
func SetupLogging(cfg config.LogConfig) zerolog.Level {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Pretty || isatty.IsTerminal(os.Stdout.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		log.Warn().Msgf("Invalid log level '%s', defaulting to info", cfg.Level)
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}
