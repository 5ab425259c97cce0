// Package logger wraps zap for the rest of Flame.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig controls log level and output format.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

// Logger wraps a *zap.Logger so derived loggers carry structured fields.
type Logger struct {
	z *zap.Logger
}

// NewLogger builds a Logger from the given LoggingConfig.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	z, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// WithFields returns a derived Logger carrying the given structured fields.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Raw returns the underlying *zap.Logger for callers that need it directly.
func (l *Logger) Raw() *zap.Logger { return l.z }

var defaultLogger atomic.Pointer[Logger]

// SetDefault installs l as the package-level default logger.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Default returns the package-level default logger, falling back to a
// new zap production logger if SetDefault was never called.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	z, _ := zap.NewProduction()
	return &Logger{z: z}
}
