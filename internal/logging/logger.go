package logging

import (
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a zap logger configured for structured production logging.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	return cfg.Build()
}

// ParseLevel maps a config level name to a zap level. Unknown names fall
// back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// CronLogger adapts a zap logger to the cron.Logger interface.
func CronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{s: logger.Sugar()}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
