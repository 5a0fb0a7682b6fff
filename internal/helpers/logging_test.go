package helpers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/cankoe/rcon-event-scheduler/internal/config"
)

func TestSetupLoggingLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	assert.Equal(t, zerolog.DebugLevel, SetupLogging(config.LogConfig{Level: "debug"}))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	assert.Equal(t, zerolog.InfoLevel, SetupLogging(config.LogConfig{Level: "chatty"}))
	assert.Equal(t, zerolog.InfoLevel, SetupLogging(config.LogConfig{}))
}
