// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a development logger (console encoder, stack traces on warn)
// or a production JSON logger at the given level.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Must is New that falls back to a development logger on a bad level.
func Must(level string, development bool) *zap.Logger {
	logger, err := New(level, development)
	if err != nil {
		logger, _ = zap.NewDevelopment()
		logger.Warn("invalid log configuration, using development logger", zap.Error(err))
	}
	return logger
}
