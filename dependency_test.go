package tlsloop

import "testing"

func newTestTracker(workers int) (*sequencer, *dependencyTracker) {
	seq := newSequencer(workers)
	dt := newDependencyTracker(seq, workers, 16, 4, nil)
	return seq, dt
}

func TestDependencyTrackerLoadForwardsBufferedWrite(t *testing.T) {
	seq, dt := newTestTracker(4)

	var x int64 = 0

	e0, _, _ := seq.NextEpoch()
	dt.ThreadInit(0, e0)
	var src int64 = 5
	dt.Store(0, &src, &x)

	// Memory itself is untouched until commit.
	if x != 0 {
		t.Fatalf("memory written before commit: x = %d", x)
	}

	e1, _, _ := seq.NextEpoch()
	dt.ThreadInit(1, e1)
	var got int64
	dt.Load(1, &x, &got)
	if got != 5 {
		t.Fatalf("Load forwarded %d, want 5 (buffered write from epoch 0)", got)
	}
}

func TestDependencyTrackerCommitPublishesToMemory(t *testing.T) {
	seq, dt := newTestTracker(4)

	var x int64 = 0
	e0, _, _ := seq.NextEpoch()
	dt.ThreadInit(0, e0)
	var src int64 = 7
	dt.Store(0, &src, &x)
	seq.SetDone(e0)

	dt.Commit(e0)
	seq.CommitDone(e0)

	if x != 7 {
		t.Fatalf("x after commit = %d, want 7", x)
	}
}

func TestDependencyTrackerRollbackDiscardsBufferedWrite(t *testing.T) {
	seq, dt := newTestTracker(4)

	var x int64 = 0
	e0, _, _ := seq.NextEpoch()
	dt.ThreadInit(0, e0)
	var src int64 = 99
	dt.Store(0, &src, &x)

	dt.Rollback(e0)

	// Re-run epoch 0: without the prior rollback's buffered write interfering.
	var got int64
	dt.Load(0, &x, &got)
	if got != 0 {
		t.Fatalf("Load after rollback = %d, want 0 (memory untouched, buffer cleared)", got)
	}
}

func TestDependencyTrackerDetectsViolationAndRollsBackLater(t *testing.T) {
	seq, dt := newTestTracker(4)

	var x int64 = 0

	e0, _, _ := seq.NextEpoch()
	dt.ThreadInit(0, e0)
	e1, _, _ := seq.NextEpoch()
	dt.ThreadInit(1, e1)

	// Epoch 1 (later) speculatively reads x before epoch 0 (earlier) has
	// stored to it — this is fine as long as nothing changes x afterward.
	var got int64
	dt.Load(1, &x, &got)
	if got != 0 {
		t.Fatalf("initial speculative read = %d, want 0", got)
	}

	// Now epoch 0 stores to x: since epoch 1 already read x and epoch 1 is
	// later, this is a true dependence violation and must force a rollback
	// starting at epoch 1.
	var src int64 = 1
	dt.Store(0, &src, &x)

	if got := seq.Status(e1); got != StatusPendingRollback && got != StatusRollback {
		t.Fatalf("epoch 1 status after violation = %v, want PendingRollback or Rollback", got)
	}
}

func TestDependencyTrackerFastPathMatchesSlowPath(t *testing.T) {
	seq, dt := newTestTracker(4)

	var x int64 = 0
	e0, _, _ := seq.NextEpoch()
	dt.ThreadInit(0, e0)

	var src int64 = 3
	dt.StoreFast(0, 0, &src, &x)

	e1, _, _ := seq.NextEpoch()
	dt.ThreadInit(1, e1)
	var got int64
	dt.LoadFast(1, 0, &x, &got)
	if got != 3 {
		t.Fatalf("LoadFast forwarded %d, want 3", got)
	}
}

func TestDependencyTrackerResetClearsState(t *testing.T) {
	seq, dt := newTestTracker(4)

	var x int64 = 0
	e0, _, _ := seq.NextEpoch()
	dt.ThreadInit(0, e0)
	var src int64 = 1
	dt.Store(0, &src, &x)

	dt.Reset(16)

	seq.reset()
	e0b, _, _ := seq.NextEpoch()
	dt.ThreadInit(0, e0b)
	var got int64
	dt.Load(0, &x, &got)
	if got != 0 {
		t.Fatalf("Load after Reset = %d, want 0 (no stale forwarding across runs)", got)
	}
}
