// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package tlsloop

import "go.uber.org/zap"

// Logger receives runtime diagnostics: worker CPU-pinning failures and the
// automaxprocs GOMAXPROCS adjustment made by the first NewRuntime call.
// It deliberately stays off the per-access hot path (Load/Store never log).
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// zapLogger adapts a zap.SugaredLogger to Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap logger for use as a Runtime's Logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.Sugar()}
}

// NewProductionLogger builds a Logger backed by zap's production config
// (JSON encoding, info level and above).
func NewProductionLogger() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, WrapError("tlsloop: build production logger", err)
	}
	return NewZapLogger(l), nil
}

func (z *zapLogger) Debugf(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...any)  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...any)  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...any) { z.sugar.Errorf(format, args...) }
