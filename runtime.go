// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package tlsloop

import (
	"runtime"
	"sync"

	"go.uber.org/automaxprocs/maxprocs"
)

// autoMaxProcsOnce adjusts GOMAXPROCS to match any cgroup CPU quota the
// process is running under, exactly once per process: without this, a
// WithWorkers(0) runtime sizes itself off the host's core count even inside
// a container limited to a fraction of it.
var autoMaxProcsOnce sync.Once

func applyAutoMaxProcs(logger Logger) {
	autoMaxProcsOnce.Do(func() {
		_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
			logger.Infof(format, args...)
		}))
	})
}

// Runtime is a handle for running sequential loop bodies under thread-level
// speculation. One Runtime can drive many back-to-back ExecSimple calls but
// not concurrent ones; create another Runtime for that.
type Runtime struct {
	opts    *runtimeOptions
	pool    *workerPool
	seq     *sequencer
	dt      *dependencyTracker
	metrics *Metrics

	mu      sync.Mutex
	closed  bool
	running bool
}

// NewRuntime builds a Runtime per opts. Workers defaults to GOMAXPROCS
// (itself adjusted for any container CPU quota via automaxprocs) when
// WithWorkers isn't given or is given as 0.
//
// NewRuntime fails with ErrSystemResource if the resolved worker count P
// would leave no room for a live epoch window strictly larger than P
// (E_MAX = min(flagHalfBits, 2P) must exceed P, i.e. P must be at least 1
// and less than flagHalfBits).
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	cfg, err := resolveRuntimeOptions(opts)
	if err != nil {
		return nil, err
	}

	applyAutoMaxProcs(cfg.logger)

	if cfg.workers == 0 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}
	if cfg.workers < 1 {
		return nil, WrapError("tlsloop: NewRuntime", ErrSystemResource)
	}
	if cfg.workers >= flagHalfBits {
		return nil, WrapError("tlsloop: NewRuntime: worker count leaves no room for E_MAX > P", ErrSystemResource)
	}

	var metrics *Metrics
	if cfg.metricsEnabled {
		metrics = &Metrics{}
	}

	seq := newSequencer(cfg.workers)
	dt := newDependencyTracker(seq, cfg.workers, cfg.mapCapacityHint, cfg.indexSize, metrics)
	pool := newWorkerPool(cfg.workers, cfg.pinWorkers, cfg.logger)

	return &Runtime{
		opts:    cfg,
		pool:    pool,
		seq:     seq,
		dt:      dt,
		metrics: metrics,
	}, nil
}

// Workers returns the worker pool size this Runtime was built with.
func (rt *Runtime) Workers() int { return rt.pool.Size() }

// Metrics returns the runtime's counters, or a zero Snapshot if
// WithMetrics(true) wasn't set.
func (rt *Runtime) Metrics() Snapshot { return rt.metrics.Snapshot() }

// ExecSimple runs executor to completion: every worker repeatedly claims the
// next epoch, replays it if it was rolled back, runs executor, and commits
// or waits for earlier epochs to commit first, until executor returns Break
// on some epoch and every epoch up to and including it has committed, or
// some epoch's executor returns Error.
//
// ExecSimple is not reentrant: only one call may be in flight on a Runtime
// at a time, and it must not be called after Close.
func (rt *Runtime) ExecSimple(executor Executor) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return WrapError("tlsloop: ExecSimple", ErrSystemResource)
	}
	if rt.running {
		rt.mu.Unlock()
		return WrapError("tlsloop: ExecSimple: already running", ErrSystemResource)
	}
	rt.running = true
	rt.mu.Unlock()

	defer func() {
		rt.mu.Lock()
		rt.running = false
		rt.mu.Unlock()
	}()

	rt.seq.reset()
	rt.dt.Reset(rt.opts.mapCapacityHint)

	info := &execInfo{executor: executor, seq: rt.seq, dt: rt.dt, metrics: rt.metrics}
	if !rt.pool.Exec(poolWorkerSimple, info) {
		return &ExecError{Cause: ErrExecutorError}
	}
	return nil
}

// Load reads the most recent speculatively-visible value of *src into *dest,
// forwarding a buffered write from an earlier live epoch when one exists.
// Must only be called from inside the executor, by the worker that owns the
// current epoch.
func (rt *Runtime) Load(poolID int, src, dest *int64) { rt.dt.Load(poolID, src, dest) }

// Store buffers *src as dest's speculative value for the current epoch and
// triggers a rollback of any later epoch that already read dest. Must only
// be called from inside the executor, by the worker that owns the current
// epoch.
func (rt *Runtime) Store(poolID int, src, dest *int64) { rt.dt.Store(poolID, src, dest) }

// LoadFast is Load using indexID's cached address record instead of probing
// the address map. indexID must be stable across calls for a given access
// site and distinct from every other access site's indexID, up to
// WithIndexSize's configured size.
func (rt *Runtime) LoadFast(poolID, indexID int, src, dest *int64) {
	rt.dt.LoadFast(poolID, indexID, src, dest)
}

// StoreFast is Store using indexID's cached address record instead of
// probing the address map.
func (rt *Runtime) StoreFast(poolID, indexID int, src, dest *int64) {
	rt.dt.StoreFast(poolID, indexID, src, dest)
}

// Close stops every worker goroutine and releases pooled allocations. No
// ExecSimple call may be in flight. Close is idempotent.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	rt.pool.Close()
	rt.dt.Close()
	return nil
}
