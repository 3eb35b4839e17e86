package tlsloop

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
)

const (
	addrMapDefaultCapacity = 64
	addrMapLoadFactor      = 0.66
	addrMapHelperThreshold = 8
)

type resizeState int32

const (
	resizeNothing resizeState = iota
	resizePreparing
	resizeResizing
	resizeWaiting
)

// mapNode is one open-addressed slot: addr is the zero-or-claimed key (a
// real variable's address is never zero, so zero doubles as "empty") and
// value is filled in only after addr is claimed.
type mapNode struct {
	addr  atomic.Uintptr
	value atomic.Pointer[addrRecord]
}

type mapTable struct {
	nodes []mapNode
}

func newMapTable(capacity int) *mapTable {
	return &mapTable{nodes: make([]mapNode, capacity)}
}

// addrMap is a lock-free open-addressed hash table keyed on a word address,
// grounded on the cooperative-resize linear-probe table in map_h.c: the
// first prober past the load factor becomes the resize master, everyone
// else who shows up mid-resize pitches in as a helper transferring random
// slots, and the table swap only happens once every outstanding prober has
// drained and every helper has stopped.
type addrMap struct {
	table    atomic.Pointer[mapTable]
	newTable atomic.Pointer[mapTable]
	size     atomic.Int64
	metrics  *Metrics

	resizePos   atomic.Int64
	userCount   atomic.Int64
	helperCount atomic.Int64
	resizeState atomic.Int32
}

func newAddrMap(capacityHint int, metrics *Metrics) *addrMap {
	capacity := addrMapDefaultCapacity
	target := int(float64(capacityHint) / addrMapLoadFactor)
	for capacity < target {
		capacity <<= 1
	}

	m := &addrMap{metrics: metrics}
	m.table.Store(newMapTable(capacity))
	return m
}

// hashAddr is the fmix64 finalizer from MurmurHash3, evenly mixing every bit of
// a pointer-derived key before it's folded into a bucket index.
func hashAddr(h uintptr, capacity int) int {
	v := uint64(h)
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	v *= 0xc4ceb9fe1a85ec53
	v ^= v >> 33
	return int(v % uint64(capacity))
}

func newMapSpinBackoff() func() {
	bo := newSpinBackoff()
	return func() { time.Sleep(bo.NextBackOff()) }
}

// Probe finds addr's record, installing candidate if it isn't present yet.
// Returns the winning record: either the one already in the table, or
// candidate itself if this call won the race to insert it.
func (m *addrMap) Probe(addr uintptr, candidate *addrRecord) *addrRecord {
	for {
		if v, ok := m.tryProbe(addr, candidate); ok {
			return v
		}
	}
}

func (m *addrMap) tryProbe(addr uintptr, candidate *addrRecord) (*addrRecord, bool) {
	m.userCount.Add(1)
	if resizeState(m.resizeState.Load()) != resizeNothing {
		m.userCount.Add(-1)
		m.resizeHelper()
		m.userCount.Add(1)
	}

	table := m.table.Load()
	capacity := len(table.nodes)
	h := hashAddr(addr, capacity)

	var result *addrRecord
	installed := false
	i := h
	for n := 0; n < capacity; n++ {
		node := &table.nodes[i]
		readAddr := node.addr.Load()

		if readAddr == addr {
			spin := newMapSpinBackoff()
			for node.value.Load() == nil {
				spin()
			}
			result = node.value.Load()
			break
		}

		if readAddr == 0 {
			if !node.addr.CompareAndSwap(0, addr) {
				continue // someone else claimed this slot first, retry it
			}
			node.value.Store(candidate)
			result = candidate
			installed = true
			m.size.Add(1)
			break
		}

		i = (i + 1) % capacity
	}

	newSize := m.size.Load()
	loadFactor := float64(newSize) / float64(capacity)
	if loadFactor > addrMapLoadFactor {
		m.resizeMaster()
	} else {
		m.userCount.Add(-1)
	}

	if result == nil {
		return nil, false
	}
	_ = installed
	return result, true
}

// transferItem moves the item at pos in the live table into the new table,
// idempotently: claiming the source slot (CAS to zero) is what makes a
// concurrent master/helper attempt on the same pos a no-op the second time.
func (m *addrMap) transferItem(table, newTable *mapTable, pos int) {
	node := &table.nodes[pos]
	addr := node.addr.Load()
	if addr == 0 || !node.addr.CompareAndSwap(addr, 0) {
		return
	}

	capacity := len(newTable.nodes)
	h := hashAddr(addr, capacity)
	i := h
	for n := 0; n < capacity; n++ {
		dst := &newTable.nodes[i]
		if dst.addr.CompareAndSwap(0, addr) {
			dst.value.Store(node.value.Load())
			return
		}
		i = (i + 1) % capacity
	}
}

// resizeMaster grows the table to double its capacity. Exactly one caller
// at a time wins master ownership (CAS nothing->preparing); everyone else
// falls back to helping. Readers already in Probe are let to drain (spin
// until userCount==1, the master's own count) before the source table is
// touched, and the swap waits symmetrically for every helper to leave.
func (m *addrMap) resizeMaster() {
	if !m.resizeState.CompareAndSwap(int32(resizeNothing), int32(resizePreparing)) {
		m.userCount.Add(-1)
		m.resizeHelper()
		return
	}

	table := m.table.Load()
	newCapacity := len(table.nodes) * 2
	newTable := newMapTable(newCapacity)
	m.newTable.Store(newTable)
	m.metrics.addResize()

	spin := newMapSpinBackoff()
	for m.userCount.Load() != 1 {
		spin()
	}

	m.resizePos.Store(0)
	m.resizeState.Store(int32(resizeResizing))
	for pos := 0; pos < len(table.nodes); pos++ {
		m.transferItem(table, newTable, pos)
		m.resizePos.Add(1)
	}

	m.resizeState.Store(int32(resizeWaiting))
	spin = newMapSpinBackoff()
	for m.helperCount.Load() != 0 {
		spin()
	}

	m.table.Store(newTable)
	m.newTable.Store(nil)

	m.resizeState.Store(int32(resizeNothing))
	m.userCount.Add(-1)
}

// resizeHelper pitches in on an in-progress resize by transferring a
// randomly chosen slot past the master's current position, so helpers
// don't collide with the master's sequential sweep. Must be called with
// userCount NOT already incremented for this call.
func (m *addrMap) resizeHelper() {
	m.helperCount.Add(1)

	if resizeState(m.resizeState.Load()) == resizeNothing {
		m.helperCount.Add(-1)
		return
	}

	spin := newMapSpinBackoff()
	for resizeState(m.resizeState.Load()) == resizePreparing {
		spin()
	}

	table := m.table.Load()
	newTable := m.newTable.Load()
	capacity := len(table.nodes)

	for resizeState(m.resizeState.Load()) == resizeResizing {
		minPos := int(m.resizePos.Load()) + addrMapHelperThreshold
		rangeLen := capacity - minPos
		if rangeLen <= addrMapHelperThreshold {
			break
		}
		pos := minPos + rand.IntN(rangeLen)
		m.transferItem(table, newTable, pos)
	}

	m.helperCount.Add(-1)

	spin = newMapSpinBackoff()
	for resizeState(m.resizeState.Load()) == resizeResizing {
		spin()
	}
	spin = newMapSpinBackoff()
	for resizeState(m.resizeState.Load()) == resizeWaiting {
		spin()
	}
}

// Len returns the approximate number of entries currently installed.
func (m *addrMap) Len() int {
	return int(m.size.Load())
}
