package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	assert.Equal(t, zapcore.DebugLevel, levelFromEnv())

	t.Setenv("LOG_LEVEL", "warn")
	assert.Equal(t, zapcore.WarnLevel, levelFromEnv())

	t.Setenv("LOG_LEVEL", "nonsense")
	assert.Equal(t, zapcore.InfoLevel, levelFromEnv(), "unparseable falls back to info")

	t.Setenv("LOG_LEVEL", "")
	assert.Equal(t, zapcore.InfoLevel, levelFromEnv())
}

func TestNew_RespectsConfiguredLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	log := New("test-service")
	defer log.Sync()

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
}
