// logger/logger.go
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates the production structured logger. The minimum level comes
// from LOG_LEVEL (debug|info|warn|error), defaulting to info.
func New(serviceName string) *zap.Logger {
	return build(zap.NewProductionConfig(), serviceName)
}

// NewDevelopment creates a human-readable logger for local runs.
func NewDevelopment(serviceName string) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return build(config, serviceName)
}

func build(config zap.Config, serviceName string) *zap.Logger {
	config.Level = zap.NewAtomicLevelAt(levelFromEnv())
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// levelFromEnv parses LOG_LEVEL; unset or unparseable means info.
func levelFromEnv() zapcore.Level {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return zapcore.InfoLevel
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}
