package infra

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerFactory hands out named loggers sharing one level, which can be
// switched between info and debug while the server runs.
type LoggerFactory struct {
	baseLogger *zap.Logger
	level      zap.AtomicLevel
}

func (f *LoggerFactory) Create(name string) *zap.Logger {
	return f.baseLogger.Named(name)
}

// SetDebug switches every logger of the factory to debug or back to info.
func (f *LoggerFactory) SetDebug(enabled bool) {
	f.level.SetLevel(levelFor(enabled))
}

func (f *LoggerFactory) Debug() bool {
	return f.level.Enabled(zapcore.DebugLevel)
}

// Sync flushes buffered entries of every logger created by this factory.
func (f *LoggerFactory) Sync() error {
	return f.baseLogger.Sync()
}

// NewLoggerFactory builds the console logger. Starting in debug also adds
// stack traces to warnings, not only to errors.
func NewLoggerFactory(debug bool) *LoggerFactory {
	level := zap.NewAtomicLevelAt(levelFor(debug))
	stacktraceLevel := zapcore.ErrorLevel
	if debug {
		stacktraceLevel = zapcore.WarnLevel
	}

	var cfg = zap.Config{
		Level:             level,
		Development:       debug,
		DisableStacktrace: true,
		Encoding:          "console",
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "name",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}
	logger := zap.Must(cfg.Build(zap.AddStacktrace(stacktraceLevel)))
	logger.Info("logger created", zap.Stringer("level", level.Level()))

	return &LoggerFactory{
		baseLogger: logger,
		level:      level,
	}
}

// NewNopLoggerFactory returns a factory whose loggers discard everything.
// Used by tests.
func NewNopLoggerFactory() *LoggerFactory {
	return &LoggerFactory{baseLogger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

func levelFor(debug bool) zapcore.Level {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
