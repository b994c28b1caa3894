// Package telemetry provides the structured logging used throughout
// chromefp. It wraps go.uber.org/zap the way muqo16-vg-hitbot/pkg/logger
// does: a small Config selects level and encoding, New builds a
// *zap.Logger, and callers attach per-Session/per-Request context with
// With.
//
// Because this is a security-research tool aimed at the operator's own
// infrastructure, the wrapper never logs cookie values, challenge
// solutions, or response bodies at Info level; that detail is only
// available at Debug, which callers must opt into explicitly.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the zapcore levels chromefp callers choose between.
type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// Config selects the logger's verbosity and output encoding.
type Config struct {
	// Level is the minimum level emitted.
	Level Level
	// Development enables human-readable console encoding with caller
	// info; production mode emits compact JSON.
	Development bool
}

// New builds a *zap.Logger from cfg. A zero Config produces an info-level
// production (JSON) logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(cfg.Level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// NewNop returns a logger that discards everything, for use in tests and
// as a safe zero value when a caller does not supply one.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
