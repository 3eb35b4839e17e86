// Package tlsloop provides a runtime for thread-level speculative (TLS)
// execution of sequential loop bodies. Given a loop body exposed as an
// executor callback, it runs successive iterations in parallel across
// worker goroutines, optimistically assuming they are independent, detects
// data-dependence violations between iterations at run time, rolls back
// offending iterations, and commits results to memory in sequential order.
//
// # Architecture
//
// The runtime is built around four tightly coupled subsystems:
//
//   - the epoch sequencer ([sequencer]): a lock-free-except-rollback state
//     machine that assigns monotonically increasing epoch numbers to
//     iterations, tracks their lifecycle, serializes commits, and triggers
//     cascading rollbacks;
//   - the dependency tracker ([dependencyTracker]): per-address speculative
//     read/write buffers with violation detection on writes and forwarding
//     on reads;
//   - the concurrent address map ([addrMap]): a lock-free open-addressed
//     hash table with cooperative resize, used to intern per-address
//     metadata;
//   - the worker pool ([workerPool]): a fixed-size pool that drives
//     iterations through the next/execute/commit/rollback cycle.
//
// [Runtime] bundles all four into a single handle so a process can run more
// than one speculative loop (sequentially) without relying on package-level
// global state.
//
// # Guarantee
//
// The guarantee to the caller is sequential equivalence: the visible side
// effects on memory — modulo the restricted shared-access interface
// ([Runtime.Load] / [Runtime.Store] and their fast-path variants) — are
// those of running the iterations one after another in program order.
//
// # Thread Safety
//
//   - [Runtime.ExecSimple] dispatches all worker goroutines and blocks
//     until the run halts; it is not reentrant on the same [Runtime].
//   - [Runtime.Load]/[Runtime.Store]/[Runtime.LoadFast]/[Runtime.StoreFast]
//     must only be called from inside the executor callback, by the worker
//     that currently owns the epoch it was invoked for.
//   - All addresses passed to the instrumented accessors must be aligned to
//     8 bytes and reference exactly one machine word; unaligned access is a
//     programming error (see [ErrInternalAssertion]).
//
// # Usage
//
//	rt, err := tlsloop.NewRuntime(tlsloop.WithWorkers(0))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Close()
//
//	var i, a int64
//	err = rt.ExecSimple(func(poolID int) tlsloop.ExecResult {
//		var iv int64
//		rt.Load(poolID, &i, &iv)
//		iv++
//		rt.Store(poolID, &iv, &i)
//		if iv > 100 {
//			return tlsloop.Break
//		}
//		var av int64
//		rt.Load(poolID, &a, &av)
//		av += iv
//		rt.Store(poolID, &av, &a)
//		return tlsloop.Continue
//	})
//
// # Non-goals
//
// Unaligned speculative access; speculative access at granularity other
// than one machine word; nested speculation; speculation across system
// calls or non-memory side effects; persistence; distribution across
// machines. The companion compiler pass that would transform a real
// sequential loop into the executor callback above, plus benchmark
// harnesses and allocator wrappers, are external collaborators this package
// does not provide.
package tlsloop
