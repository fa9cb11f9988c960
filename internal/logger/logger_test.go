package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, LevelFromString("DEBUG"))
	assert.Equal(t, zerolog.ErrorLevel, LevelFromString("error"))
	assert.Equal(t, zerolog.WarnLevel, LevelFromString("bogus"))
}

func TestSetVerboseRestoresStartupLevel(t *testing.T) {
	saved := log.Logger
	defer func() { log.Logger = saved }()

	Setup(Options{Level: "info", Proc: "test"})
	assert.Equal(t, zerolog.InfoLevel, log.Logger.GetLevel())

	SetVerbose(true)
	assert.Equal(t, zerolog.DebugLevel, log.Logger.GetLevel())

	SetVerbose(false)
	assert.Equal(t, zerolog.InfoLevel, log.Logger.GetLevel())
}
