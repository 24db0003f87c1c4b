package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger, set by Init
var Logger *zap.Logger

// Init builds the process-wide logger for the given environment.
// "production" yields JSON output at Info; anything else yields colored console output at Debug.
func Init(env string) error {
	l, err := build(env)
	if err != nil {
		return err
	}
	Logger = l.With(zap.String("service", "deepintrospect"))
	return nil
}

func build(env string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Get returns the process-wide logger, or a development logger before Init has run
func Get() *zap.Logger {
	if Logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return l
	}
	return Logger
}

// Named returns a child logger scoped to a component
func Named(component string) *zap.Logger {
	return Get().Named(component)
}
