// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package tlsloop

import (
	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is a file-loadable, declarative counterpart to RuntimeOption: a
// deployment tunes worker count, map sizing, and log verbosity without a
// recompile, then layers RuntimeOptions on top for anything it doesn't
// cover (a custom Logger).
type Config struct {
	Workers                int    `toml:"workers"`
	PinWorkers             bool   `toml:"pin_workers"`
	AddressMapCapacityHint int    `toml:"address_map_capacity_hint"`
	IndexSize              int    `toml:"index_size"`
	LogLevel               string `toml:"log_level"`
	MetricsEnabled         bool   `toml:"metrics_enabled"`
}

// LoadConfigFile decodes a TOML file at path into a Config. Fields absent
// from the file keep Go's zero value; pass the result through Options to
// merge it with the same defaults NewRuntime itself uses.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, WrapError("tlsloop: LoadConfigFile", err)
	}
	return cfg, nil
}

// Options converts cfg into a RuntimeOption slice. Zero-valued fields
// (Workers, AddressMapCapacityHint, IndexSize left at 0) fall through to
// NewRuntime's own defaults rather than forcing them to zero, since those
// options already treat 0 as "use the default".
func (cfg Config) Options() ([]RuntimeOption, error) {
	opts := []RuntimeOption{
		WithWorkers(cfg.Workers),
		WithPinWorkers(cfg.PinWorkers),
		WithMetrics(cfg.MetricsEnabled),
	}
	if cfg.AddressMapCapacityHint > 0 {
		opts = append(opts, WithMapCapacityHint(cfg.AddressMapCapacityHint))
	}
	if cfg.IndexSize > 0 {
		opts = append(opts, WithIndexSize(cfg.IndexSize))
	}

	if cfg.LogLevel != "" {
		logger, err := newLeveledLogger(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithLogger(logger))
	}

	return opts, nil
}

// newLeveledLogger builds a zap-backed Logger at the given level
// ("debug", "info", "warn", or "error"; matching zapcore.ParseLevel).
func newLeveledLogger(level string) (Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, WrapError("tlsloop: config log_level", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	l, err := cfg.Build()
	if err != nil {
		return nil, WrapError("tlsloop: build leveled logger", err)
	}
	return NewZapLogger(l), nil
}
