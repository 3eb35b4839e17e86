package tlsloop

// ExecResult is what the user executor reports after running one
// iteration's worth of speculative work.
type ExecResult int

const (
	// Continue means the iteration ran normally; the worker should keep
	// speculating ahead.
	Continue ExecResult = iota
	// Break means this was the last iteration the loop should run; it is
	// still committed, but no later epoch may produce visible effects.
	Break
	// Error means the iteration failed; it still commits normally (so
	// earlier, already-buffered work isn't lost), but the run as a whole
	// reports failure once every worker has quiesced.
	Error
)

// Executor is the user's loop body, run once per epoch by whichever worker
// currently owns pool_id. It must only touch shared memory through the
// Runtime's instrumented Load/Store family.
type Executor func(poolID int) ExecResult

// execInfo bundles what a dispatched worker needs for one ExecSimple run.
type execInfo struct {
	executor Executor
	seq      *sequencer
	dt       *dependencyTracker
	metrics  *Metrics
}

// poolWorkerSimple is the per-worker driver loop, grounded on
// pool_worker_simple in yarn.c: claim the next epoch, replay it if it was
// rolled back, run the executor, mark it done, then drain whatever commits
// have become ready before looping back for another epoch. On Error the
// worker sets the stop bound at that epoch, as Break does, drains whatever
// commits are ready and then reports failure; the failing epoch itself still
// commits, by whichever worker drains it, so no buffered-but-valid work is
// discarded.
func poolWorkerSimple(poolID int, data any) bool {
	info := data.(*execInfo)

	for {
		epoch, priorStatus, ok := info.seq.NextEpoch()
		if !ok {
			return true
		}
		info.metrics.addEpochExecuted()

		if priorStatus == StatusRollback {
			info.dt.Rollback(epoch)
			info.seq.RollbackDone(epoch)
		}

		info.dt.ThreadInit(poolID, epoch)

		result := info.executor(poolID)
		if result == Break || result == Error {
			info.seq.Stop(epoch)
		}

		info.seq.SetDone(epoch)
		info.dt.ThreadDestroy(poolID)

		for {
			commitEpoch, _, ok := info.seq.NextCommit()
			if !ok {
				break
			}
			info.dt.Commit(commitEpoch)
			info.seq.CommitDone(commitEpoch)
		}

		if result == Error {
			return false
		}
	}
}
