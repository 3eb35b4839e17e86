package tlsloop

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Epoch identifies a single iteration of the speculative loop. Epochs are
// an unbounded monotonically increasing counter; comparisons must use
// epochCompare rather than plain < or >, since the counter is expected to
// wrap in sufficiently long runs.
type Epoch uint64

// noStop is the sentinel "unset" value for the stop cursor: all bits set,
// so epochCompare orders it before any epoch near the start of a run and
// isStopSet reports it as unset.
const noStop = Epoch(^uint64(0))

// epochCompare orders two epochs using wraparound-safe signed subtraction,
// matching the "high bit as a one-shot overflow flag" comparison the ring
// requires: correct as long as the two values are within half the counter
// range of each other.
func epochCompare(a, b Epoch) int {
	d := int64(a - b)
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

// EpochStatus is a slot's position in the epoch lifecycle.
type EpochStatus int32

const (
	StatusCommitted EpochStatus = iota
	StatusExecuting
	StatusDone
	StatusRollback
	StatusPendingRollback
)

func (s EpochStatus) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusExecuting:
		return "executing"
	case StatusDone:
		return "done"
	case StatusRollback:
		return "rollback"
	case StatusPendingRollback:
		return "pending_rollback"
	default:
		return "unknown"
	}
}

// epochSlot is one ring cell. Padded so adjacent slots in the backing slice
// don't share a cache line: status is read and written by every worker
// racing through next_epoch, so false sharing here is directly on the hot
// path.
type epochSlot struct {
	status atomic.Int32
	task   any
	_      [sizeOfCacheLine]byte
}

func (s *epochSlot) load() EpochStatus {
	return EpochStatus(s.status.Load())
}

func (s *epochSlot) store(status EpochStatus) {
	s.status.Store(int32(status))
}

func (s *epochSlot) cas(old, new EpochStatus) bool {
	return s.status.CompareAndSwap(int32(old), int32(new))
}

// sequencer is the epoch sequencer: a ring of epochMax slots plus the
// first/next/next_commit cursor triple and a rollback bitmap. rbLock lets
// many concurrent next_epoch callers proceed together (RLock) while a
// rollback cascade (Lock) is exclusive against all of them, mirroring the
// reader/writer lock the design calls for.
type sequencer struct {
	epochMax word
	slots    []epochSlot

	rbLock sync.RWMutex

	first         atomic.Uint64
	next          atomic.Uint64
	nextCommit    atomic.Uint64
	rollbackFlags atomic.Uint64
	stop          atomic.Uint64
}

// epochMaxFor computes E_MAX for a pool of size workers: flagHalfBits is a
// tighter bound than the data word's bit width, imposed by the packed
// (read_bits, write_bits) encoding in dependency.go. See DESIGN.md.
func epochMaxFor(workers int) word {
	optimal := word(workers) * 2
	if optimal < flagHalfBits {
		return optimal
	}
	return flagHalfBits
}

func newSequencer(workers int) *sequencer {
	epochMax := epochMaxFor(workers)
	s := &sequencer{
		epochMax: epochMax,
		slots:    make([]epochSlot, epochMax),
	}
	s.reset()
	return s
}

// reset restores the sequencer to its initial state: every slot committed,
// cursors at zero, rollback bitmap clear, stop unset. Must only be called
// when no worker holds a reference to a live epoch.
func (s *sequencer) reset() {
	for i := range s.slots {
		s.slots[i].store(StatusCommitted)
		s.slots[i].task = nil
	}
	s.first.Store(0)
	s.next.Store(0)
	s.nextCommit.Store(0)
	s.rollbackFlags.Store(0)
	s.stop.Store(uint64(noStop))
}

func (s *sequencer) index(e Epoch) word {
	return bitIndex(word(e), s.epochMax)
}

func (s *sequencer) slot(e Epoch) *epochSlot {
	return &s.slots[s.index(e)]
}

func (s *sequencer) First() Epoch { return Epoch(s.first.Load()) }
func (s *sequencer) Last() Epoch  { return Epoch(s.next.Load()) }

// RollbackFlags returns the current rollback bitmap: bit b set means the
// epoch occupying slot b is PendingRollback or Rollback.
func (s *sequencer) RollbackFlags() word {
	return word(s.rollbackFlags.Load())
}

// isStopSet reports whether stop names a real bound relative to first: the
// sentinel noStop always compares as "before" any real first, so this also
// serves as the is-initialized check.
func (s *sequencer) isStopSet(stop Epoch) bool {
	return epochCompare(stop, s.First()) >= 0
}

func newSpinBackoff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Microsecond,
		RandomizationFactor: 0.3,
		Multiplier:          1.8,
		MaxInterval:         time.Millisecond,
	}
	b.Reset()
	return b
}

// incNext is the CAS-retry loop that advances the next cursor, spinning
// (with bounded back-off) past a full ring, a pending-rollback slot, or a
// stop bound that hasn't yet reached the first live epoch. Returns false
// only when the run has genuinely halted (stop == first).
func (s *sequencer) incNext() (Epoch, bool) {
	bo := newSpinBackoff()
	for {
		curNext := Epoch(s.next.Load())
		first := s.First()
		retry := false

		if curNext != first && s.index(curNext) == s.index(first) {
			retry = true
		}

		info := s.slot(curNext)
		if !retry && info.load() == StatusPendingRollback {
			retry = true
		}

		if !retry {
			stopEpoch := Epoch(s.stop.Load())
			firstEpoch := s.First()
			if s.isStopSet(stopEpoch) && epochCompare(curNext, stopEpoch) >= 0 {
				if stopEpoch == firstEpoch {
					return 0, false
				}
				retry = true
			}
		}

		if retry {
			time.Sleep(bo.NextBackOff())
			continue
		}

		if s.next.CompareAndSwap(uint64(curNext), uint64(curNext)+1) {
			return curNext, true
		}
	}
}

// NextEpoch hands out the next epoch and marks it Executing, returning the
// status it held before (Committed on first use, Rollback when re-running
// after a prior rollback). Returns ok=false iff the run has halted.
func (s *sequencer) NextEpoch() (epoch Epoch, priorStatus EpochStatus, ok bool) {
	s.rbLock.RLock()
	defer s.rbLock.RUnlock()

	next, advanced := s.incNext()
	if !advanced {
		return 0, 0, false
	}

	info := s.slot(next)
	priorStatus = info.load()
	info.store(StatusExecuting)

	assertf(priorStatus == StatusCommitted || priorStatus == StatusRollback,
		"sequencer: next_epoch prior status", "epoch %d had status %s", next, priorStatus)

	return next, priorStatus, true
}

// Stop requests that the run halt once every epoch <= stopEpoch has
// committed. stop is stored as an exclusive upper bound (stopEpoch+1) to
// keep its comparisons consistent with first.
func (s *sequencer) Stop(stopEpoch Epoch) {
	newStop := stopEpoch + 1
	for {
		oldStop := Epoch(s.stop.Load())
		if s.isStopSet(oldStop) && epochCompare(oldStop, newStop) < 0 {
			return
		}
		if s.stop.CompareAndSwap(uint64(oldStop), uint64(newStop)) {
			return
		}
	}
}

// rollbackStop retracts stop to first-1 if the rollback we're about to
// perform would otherwise strand it past the epochs being discarded.
func (s *sequencer) rollbackStop(rollbackEpoch Epoch) {
	for {
		oldStop := Epoch(s.stop.Load())
		if !s.isStopSet(oldStop) {
			return
		}
		if epochCompare(oldStop, rollbackEpoch) <= 0 {
			return
		}
		newStop := s.First() - 1
		if s.stop.CompareAndSwap(uint64(oldStop), uint64(newStop)) {
			return
		}
	}
}

// updateStop keeps stop pinned just behind first when it isn't otherwise
// set, so the unbounded epoch counter never has to cross the full
// comparison range before stop catches up.
func (s *sequencer) updateStop() {
	for {
		oldStop := Epoch(s.stop.Load())
		if s.isStopSet(oldStop) {
			return
		}
		newStop := s.First() - 1
		if s.stop.CompareAndSwap(uint64(oldStop), uint64(newStop)) {
			return
		}
	}
}

// DoRollback cascades a rollback starting at start: every slot in
// [start, last) transitions toward Rollback/PendingRollback depending on
// whether it was Done or still Executing, the rollback bitmap records
// each affected slot, stop is retracted if necessary, and next is reset to
// start so those epochs get re-handed.
func (s *sequencer) DoRollback(start Epoch) {
	s.rbLock.Lock()
	defer s.rbLock.Unlock()

	s.rollbackStop(start)

	last := s.Last()
	for e := start; epochCompare(e, last) < 0; e++ {
		info := s.slot(e)

		skip := false
		var newStatus EpochStatus
		for {
			old := info.load()
			switch old {
			case StatusCommitted, StatusRollback, StatusPendingRollback:
				skip = true
			case StatusExecuting:
				newStatus = StatusPendingRollback
			case StatusDone:
				newStatus = StatusRollback
			default:
				assertf(false, "sequencer: do_rollback status", "epoch %d had status %d", e, old)
			}
			if skip {
				break
			}
			if info.cas(old, newStatus) {
				break
			}
		}
		if skip {
			continue
		}

		for {
			old := s.rollbackFlags.Load()
			nw := old | bitMask(word(e), s.epochMax)
			if s.rollbackFlags.CompareAndSwap(old, nw) {
				break
			}
		}
	}

	for {
		oldNext := Epoch(s.next.Load())
		if epochCompare(oldNext, start) <= 0 {
			break
		}
		if s.next.CompareAndSwap(uint64(oldNext), uint64(start)) {
			break
		}
	}
}

// RollbackDone clears epoch's rollback bitmap bit once its worker has
// finished discarding its buffered side effects.
func (s *sequencer) RollbackDone(epoch Epoch) {
	for {
		old := s.rollbackFlags.Load()
		nw := old &^ bitMask(word(epoch), s.epochMax)
		if s.rollbackFlags.CompareAndSwap(old, nw) {
			return
		}
	}
}

// SetDone marks epoch Done (the common case) or, if a rollback landed on it
// while it was executing, transitions it straight to Rollback instead.
func (s *sequencer) SetDone(epoch Epoch) {
	info := s.slot(epoch)
	for {
		old := info.load()
		var nw EpochStatus
		switch old {
		case StatusExecuting:
			nw = StatusDone
		case StatusPendingRollback:
			nw = StatusRollback
		default:
			assertf(false, "sequencer: set_done status", "epoch %d had status %d", epoch, old)
		}
		if info.cas(old, nw) {
			return
		}
	}
}

// NextCommit advances next_commit past the next Done epoch and returns it
// with its stored task, or ok=false if there's nothing ready to commit yet
// (false positives under contention are tolerated — the caller simply
// retries later).
func (s *sequencer) NextCommit() (epoch Epoch, task any, ok bool) {
	for {
		toCommit := Epoch(s.nextCommit.Load())
		next := Epoch(s.next.Load())
		if toCommit == next {
			return 0, nil, false
		}

		info := s.slot(toCommit)
		if info.load() != StatusDone {
			return 0, nil, false
		}

		stopEpoch := Epoch(s.stop.Load())
		if s.isStopSet(stopEpoch) && stopEpoch == toCommit {
			return 0, nil, false
		}

		if s.nextCommit.CompareAndSwap(uint64(toCommit), uint64(toCommit)+1) {
			task = info.task
			info.task = nil
			assertf(info.load() == StatusDone, "sequencer: next_commit status", "epoch %d", toCommit)
			return toCommit, task, true
		}
	}
}

// CommitDone transitions epoch back to Committed, advances first as far as
// contiguous already-committed slots allow, and pins stop behind the new
// first if stop isn't otherwise set.
func (s *sequencer) CommitDone(epoch Epoch) {
	info := s.slot(epoch)
	old := info.load()
	assertf(old == StatusDone, "sequencer: commit_done status", "epoch %d had status %d", epoch, old)
	info.store(StatusCommitted)

	for {
		oldFirst := Epoch(s.first.Load())
		oldCommit := Epoch(s.nextCommit.Load())
		if oldFirst == oldCommit {
			break
		}
		if s.slot(oldFirst).load() != StatusCommitted {
			break
		}
		s.first.CompareAndSwap(uint64(oldFirst), uint64(oldFirst)+1)
	}

	s.updateStop()
}

func (s *sequencer) Status(epoch Epoch) EpochStatus {
	return s.slot(epoch).load()
}

func (s *sequencer) SetTask(epoch Epoch, task any) {
	s.slot(epoch).task = task
}
