// Package logging wraps zap with the tracker's preferred console encoding.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging handle used throughout the tracker core.
type Logger = *zap.SugaredLogger

// NewConfig returns the console-encoded, color-leveled, stacktrace-free zap
// config used for every logger constructed by this module.
func NewConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// New builds a named logger at info level.
func New(name string) Logger {
	cfg := NewConfig()
	base, err := cfg.Build()
	if err != nil {
		// zap.Config.Build only fails on a malformed config literal; this
		// one is fixed at compile time, so fall back rather than panic.
		base = zap.NewExample()
	}
	return base.Named(name).Sugar()
}

// NewDebug builds a named logger at debug level.
func NewDebug(name string) Logger {
	cfg := NewConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	base, err := cfg.Build()
	if err != nil {
		base = zap.NewExample()
	}
	return base.Named(name).Sugar()
}

// NewTest builds a logger suitable for use inside tests.
func NewTest(name string) Logger {
	base := zap.NewExample()
	return base.Named(name).Sugar()
}
