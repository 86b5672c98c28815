package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StandardLogger wraps zap with the small surface the services need.
type StandardLogger struct {
	logger *zap.Logger
}

// NewStandardLogger builds a logger for the given level and environment.
// Production gets JSON output, everything else a console encoder.
func NewStandardLogger(level, environment string) *StandardLogger {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(getZapLevel(level))

	logger, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger = zap.NewNop()
	}
	return &StandardLogger{logger: logger}
}

// Logger exposes the underlying zap logger.
func (s *StandardLogger) Logger() *zap.Logger {
	return s.logger
}

// WithService returns a logger tagged with a service name.
func (s *StandardLogger) WithService(name string) *zap.Logger {
	return s.logger.With(zap.String("service", name))
}

// WithComponent returns a logger tagged with a component name.
func (s *StandardLogger) WithComponent(name string) *zap.Logger {
	return s.logger.With(zap.String("component", name))
}

// Sync flushes buffered log entries.
func (s *StandardLogger) Sync() {
	_ = s.logger.Sync()
}

func getZapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
