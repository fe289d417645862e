// Package logging provides the process-wide structured logger: a
// package-level logger fetched via GetLogger, built once on first use
// and backed by go.uber.org/zap rather than the standard library's
// *log.Logger.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	logger *zap.SugaredLogger
)

func build() *zap.SugaredLogger {
	level := zap.InfoLevel
	if os.Getenv("HOTSTUFF_LOG_DEBUG") != "" {
		level = zap.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build()
	if err != nil {
		// Fall back to a bare logger rather than panicking at import
		// time; this should only happen if the process's stderr is
		// unusable.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// GetLogger returns the process-wide logger, constructing it on first
// use.
func GetLogger() *zap.SugaredLogger {
	once.Do(func() {
		logger = build()
	})
	return logger
}

// Named returns a child logger tagged with the given component name, the
// idiom the consensus and bridge packages use to identify their log lines.
func Named(component string) *zap.SugaredLogger {
	return GetLogger().Named(component)
}
