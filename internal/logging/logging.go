// Package logging constructs the zap loggers used across the engine.
//
// Loggers are built per call site and passed down explicitly; there is no
// package-level singleton, so independent sessions (and tests) never share
// logging state.
package logging

import (
	"go.uber.org/zap"
)

// Config controls logger construction.
type Config struct {
	// Development switches to the human-readable development encoder and
	// enables debug-level output.
	Development bool
}

// New builds a sugared logger for the given configuration.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if cfg.Development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop returns a logger that discards everything. Used as the default when a
// component is constructed without an explicit logger.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
