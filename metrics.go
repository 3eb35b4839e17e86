// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package tlsloop

import "sync/atomic"

// Metrics tracks low-overhead, lock-free counters for a Runtime. A nil
// *Metrics is valid everywhere it's used as a receiver: Runtime only
// allocates one when WithMetrics(true) is set, so every increment call on
// the hot path is a cheap nil check rather than an allocation-guarded branch
// at every call site.
type Metrics struct {
	epochsExecuted atomic.Uint64
	commits        atomic.Uint64
	rollbacks      atomic.Uint64
	violations     atomic.Uint64
	resizes        atomic.Uint64
}

// Snapshot is a point-in-time copy of a Metrics' counters.
type Snapshot struct {
	// EpochsExecuted counts every NextEpoch claim, including epochs that
	// were later rolled back and re-executed.
	EpochsExecuted uint64
	// Commits counts epochs whose buffered writes were published to memory.
	Commits uint64
	// Rollbacks counts epochs whose buffered writes were discarded.
	Rollbacks uint64
	// Violations counts dependence-violation detections, i.e. the number
	// of times a store forced a later epoch (and everything after it) to
	// roll back. Each violation causes one or more Rollbacks.
	Violations uint64
	// Resizes counts address-map growth events.
	Resizes uint64
}

func (m *Metrics) addEpochExecuted() {
	if m != nil {
		m.epochsExecuted.Add(1)
	}
}

func (m *Metrics) addCommit() {
	if m != nil {
		m.commits.Add(1)
	}
}

func (m *Metrics) addRollback() {
	if m != nil {
		m.rollbacks.Add(1)
	}
}

func (m *Metrics) addViolation() {
	if m != nil {
		m.violations.Add(1)
	}
}

func (m *Metrics) addResize() {
	if m != nil {
		m.resizes.Add(1)
	}
}

// Snapshot reads every counter. Safe to call concurrently with any Runtime
// operation.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		EpochsExecuted: m.epochsExecuted.Load(),
		Commits:        m.commits.Load(),
		Rollbacks:      m.rollbacks.Load(),
		Violations:     m.violations.Load(),
		Resizes:        m.resizes.Load(),
	}
}
