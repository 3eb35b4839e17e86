// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package tlsloop

// runtimeOptions holds the resolved configuration for a Runtime.
type runtimeOptions struct {
	workers         int
	pinWorkers      bool
	mapCapacityHint int
	indexSize       int
	logger          Logger
	metricsEnabled  bool
}

// RuntimeOption configures a Runtime instance.
type RuntimeOption interface {
	applyRuntime(*runtimeOptions) error
}

type runtimeOptionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (r *runtimeOptionImpl) applyRuntime(opts *runtimeOptions) error {
	return r.applyRuntimeFunc(opts)
}

// WithWorkers sets the worker pool size. 0 (the default) means "all cores",
// resolved through automaxprocs-adjusted GOMAXPROCS.
func WithWorkers(n int) RuntimeOption {
	return &runtimeOptionImpl{func(opts *runtimeOptions) error {
		if n < 0 {
			return WrapError("tlsloop: WithWorkers", ErrSystemResource)
		}
		opts.workers = n
		return nil
	}}
}

// WithPinWorkers sets whether each worker goroutine's OS thread is pinned
// to a dedicated CPU. Enabled by default; disable on systems where
// affinity syscalls aren't available or desired (e.g. containers with a
// restrictive cpuset, or during local testing).
func WithPinWorkers(enabled bool) RuntimeOption {
	return &runtimeOptionImpl{func(opts *runtimeOptions) error {
		opts.pinWorkers = enabled
		return nil
	}}
}

// WithMapCapacityHint pre-sizes the address map for an expected working-set
// size, avoiding early resizes.
func WithMapCapacityHint(n int) RuntimeOption {
	return &runtimeOptionImpl{func(opts *runtimeOptions) error {
		if n < 0 {
			return WrapError("tlsloop: WithMapCapacityHint", ErrSystemResource)
		}
		opts.mapCapacityHint = n
		return nil
	}}
}

// WithIndexSize sets the size of the fast-path index array, shared by all
// workers, used by LoadFast/StoreFast. Must be large enough to hold one slot per
// monomorphic access site the executor uses.
func WithIndexSize(n int) RuntimeOption {
	return &runtimeOptionImpl{func(opts *runtimeOptions) error {
		if n < 0 {
			return WrapError("tlsloop: WithIndexSize", ErrSystemResource)
		}
		opts.indexSize = n
		return nil
	}}
}

// WithLogger sets the structured logger used for runtime diagnostics
// (worker CPU-pinning failures, the automaxprocs adjustment). Defaults to a
// no-op logger.
func WithLogger(logger Logger) RuntimeOption {
	return &runtimeOptionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables the runtime's commit/rollback/resize counters,
// readable via Runtime.Metrics.
func WithMetrics(enabled bool) RuntimeOption {
	return &runtimeOptionImpl{func(opts *runtimeOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveRuntimeOptions applies RuntimeOption instances over the defaults.
func resolveRuntimeOptions(opts []RuntimeOption) (*runtimeOptions, error) {
	cfg := &runtimeOptions{
		workers:         0,
		pinWorkers:      true,
		mapCapacityHint: 1024,
		indexSize:       256,
		logger:          nopLogger{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
