// Package logger wraps zap with the level/environment constructor the
// rest of the service expects from app wiring.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger. Call sites use the structured helpers
// directly; Zap() is the escape hatch for call sites that want the raw
// logger (e.g. to pass into a teacher-shaped constructor expecting
// *zap.Logger).
type Logger struct {
	z *zap.Logger
}

// New builds a Logger for the given level ("debug", "info", "warn",
// "error") and environment ("development", "staging", "production").
// Production environments get JSON encoding; anything else gets the
// human-readable console encoder.
func New(level, environment string) (*Logger, error) {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

func (l *Logger) Zap() *zap.Logger { return l.z }

func (l *Logger) Sync() error { return l.z.Sync() }

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }
