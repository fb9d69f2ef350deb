package services

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. LOG_LEVEL selects the minimum level,
// APP_ENV=development switches to the console encoder.
func NewLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := level.Set(raw); err != nil {
			return nil, err
		}
	}

	var cfg zap.Config
	if os.Getenv("APP_ENV") == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	return cfg.Build()
}
