package tlsloop

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// noCommitEpoch is the "nothing has committed yet" sentinel for a record's
// lastCommit: epochCompare orders it before any real epoch near the start
// of a run, so the first real commit always wins the ">" check.
const noCommitEpoch = Epoch(^uint64(0))

// packFlags/unpackFlags implement the packed (read_bits, write_bits) pair:
// each half gets flagHalfBits of one uint64, so both can be read and
// written together as a single atomic word — the packing is what makes
// flags a valid linearization point for the violation/forwarding checks.
func packFlags(readBits, writeBits word) uint64 {
	return uint64(readBits) | uint64(writeBits)<<flagHalfBits
}

func unpackFlags(flags uint64) (readBits, writeBits word) {
	const halfMask = word(1)<<flagHalfBits - 1
	readBits = word(flags) & halfMask
	writeBits = word(flags>>flagHalfBits) & halfMask
	return
}

// addrRecord is the per-address record: flags packs the live epochs that
// have read or written through this address, writeBuffer holds the
// not-yet-committed value for each slot that has one, and listNext threads
// the record onto the touched list of every epoch that currently has it
// pending. The record itself is owned by the map for its full lifetime;
// listNext is a transient, per-epoch view into it.
type addrRecord struct {
	ptr         *int64
	flags       atomic.Uint64
	lastCommit  atomic.Uint64
	commitLock  sync.Mutex
	writeBuffer []int64
	listNext    []*addrRecord
}

// dependencyTracker intercepts every instrumented load/store, detects
// dependence violations on writes, forwards buffered writes on reads, and
// commits or discards an epoch's buffered writes at the end of its life.
// Grounded on dependency.c.
type dependencyTracker struct {
	seq      *sequencer
	epochMax word
	metrics  *Metrics

	addrMap *addrMap
	alloc   *pooledAlloc[addrRecord]

	epochOf   *SlotStore[Epoch]
	listHeads []*addrRecord
	index     []atomic.Pointer[addrRecord]
}

func newDependencyTracker(seq *sequencer, workers, mapCapacityHint, indexSize int, metrics *Metrics) *dependencyTracker {
	epochMax := seq.epochMax
	dt := &dependencyTracker{
		seq:       seq,
		epochMax:  epochMax,
		metrics:   metrics,
		epochOf:   NewSlotStore[Epoch](workers),
		listHeads: make([]*addrRecord, epochMax),
		index:     make([]atomic.Pointer[addrRecord], indexSize),
	}
	dt.addrMap = newAddrMap(mapCapacityHint, metrics)
	dt.alloc = newPooledAlloc[addrRecord](workers, func(r *addrRecord) {
		r.lastCommit.Store(uint64(noCommitEpoch))
		r.flags.Store(0)
		r.writeBuffer = make([]int64, epochMax)
		r.listNext = make([]*addrRecord, epochMax)
	}, nil)
	return dt
}

// Reset reinstalls a fresh address map and clears the fast-path index and
// touched-list heads, ready for a new run over the same pool. epochMax is
// fixed for the tracker's lifetime (it's derived from the worker count).
func (dt *dependencyTracker) Reset(mapCapacityHint int) {
	dt.addrMap = newAddrMap(mapCapacityHint, dt.metrics)
	for i := range dt.index {
		dt.index[i].Store(nil)
	}
	for i := range dt.listHeads {
		dt.listHeads[i] = nil
	}
}

func (dt *dependencyTracker) Close() {
	dt.alloc.Close()
}

func (dt *dependencyTracker) ThreadInit(poolID int, epoch Epoch) {
	dt.epochOf.Store(poolID, epoch)
}

func (dt *dependencyTracker) ThreadDestroy(poolID int) {}

func (dt *dependencyTracker) getEpoch(poolID int) Epoch {
	return dt.epochOf.Load(poolID)
}

func alignmentCheck(addr *int64) {
	assertf(uintptr(unsafe.Pointer(addr))%8 == 0, "dependency: alignment", "address %p is not 8-byte aligned", addr)
}

func (dt *dependencyTracker) infoListPush(epoch Epoch, info *addrRecord) {
	idx := bitIndex(word(epoch), dt.epochMax)
	info.listNext[idx] = dt.listHeads[idx]
	dt.listHeads[idx] = info
}

func (dt *dependencyTracker) infoListPushIfNew(epoch Epoch, info *addrRecord) {
	mask := bitMask(word(epoch), dt.epochMax)
	readBits, writeBits := unpackFlags(info.flags.Load())
	if readBits&mask == 0 && writeBits&mask == 0 {
		dt.infoListPush(epoch, info)
	}
}

func (dt *dependencyTracker) infoListPop(epoch Epoch) *addrRecord {
	idx := bitIndex(word(epoch), dt.epochMax)
	head := dt.listHeads[idx]
	if head == nil {
		return nil
	}
	dt.listHeads[idx] = head.listNext[idx]
	head.listNext[idx] = nil
	return head
}

// getMapAddrInfo finds or installs addr's record via the address map,
// recycling the losing candidate back into the pool when another goroutine
// wins the race to insert it first.
func (dt *dependencyTracker) getMapAddrInfo(poolID int, addr *int64) *addrRecord {
	epoch := dt.getEpoch(poolID)

	candidate := dt.alloc.Alloc(poolID)
	candidate.ptr = addr

	info := dt.addrMap.Probe(uintptr(unsafe.Pointer(addr)), candidate)
	if info != candidate {
		dt.alloc.Free(poolID, candidate)
		dt.infoListPushIfNew(epoch, info)
	} else {
		dt.infoListPush(epoch, info)
	}
	return info
}

// getIndexAddrInfo is the fast path for a monomorphic access site: once
// indexID has resolved to a record, later calls skip the map probe
// entirely and go straight to the touched-list check.
func (dt *dependencyTracker) getIndexAddrInfo(poolID, indexID int, addr *int64) *addrRecord {
	slot := &dt.index[indexID]
	if info := slot.Load(); info != nil {
		dt.infoListPushIfNew(dt.getEpoch(poolID), info)
		return info
	}
	info := dt.getMapAddrInfo(poolID, addr)
	slot.Store(info)
	return info
}

func (dt *dependencyTracker) setWriteFlag(info *addrRecord, epoch Epoch) uint64 {
	mask := bitMask(word(epoch), dt.epochMax)
	for {
		old := info.flags.Load()
		readBits, writeBits := unpackFlags(old)
		if writeBits&mask != 0 {
			return old
		}
		writeBits |= mask
		nw := packFlags(readBits, writeBits)
		if info.flags.CompareAndSwap(old, nw) {
			return nw
		}
	}
}

func (dt *dependencyTracker) setReadFlag(info *addrRecord, epoch Epoch) uint64 {
	mask := bitMask(word(epoch), dt.epochMax)
	for {
		old := info.flags.Load()
		readBits, writeBits := unpackFlags(old)
		if readBits&mask != 0 {
			return old
		}
		readBits |= mask
		nw := packFlags(readBits, writeBits)
		if info.flags.CompareAndSwap(old, nw) {
			return nw
		}
	}
}

func (dt *dependencyTracker) clearFlags(info *addrRecord, epoch Epoch) uint64 {
	mask := bitMask(word(epoch), dt.epochMax)
	for {
		old := info.flags.Load()
		readBits, writeBits := unpackFlags(old)
		readBits &^= mask
		writeBits &^= mask
		nw := packFlags(readBits, writeBits)
		if info.flags.CompareAndSwap(old, nw) {
			return old
		}
	}
}

// storeToWbuf buffers value for epoch's slot and sets the write bit; the
// write-buffer slot write happens-before the flags CAS below it in program
// order, and the CAS is what a later reader synchronizes on, so no
// separate fence is needed (see the linearization-point design note).
func (dt *dependencyTracker) storeToWbuf(info *addrRecord, epoch Epoch, value int64) word {
	idx := bitIndex(word(epoch), dt.epochMax)
	info.writeBuffer[idx] = value
	flags := dt.setWriteFlag(info, epoch)
	readBits, _ := unpackFlags(flags)
	return readBits
}

func (dt *dependencyTracker) indexToEpochAfter(base Epoch, index word) Epoch {
	baseIdx := dt.seq.index(base)
	if baseIdx <= index {
		return base + Epoch(index-baseIdx)
	}
	return base + Epoch(dt.epochMax-baseIdx) + Epoch(index)
}

func (dt *dependencyTracker) indexToEpochBefore(base Epoch, index word) Epoch {
	baseIdx := dt.seq.index(base)
	if baseIdx >= index {
		return base - Epoch(baseIdx-index)
	}
	return base - Epoch(baseIdx) - Epoch(dt.epochMax-index)
}

// loadFromWbuf forwards the latest buffered write from an earlier live
// epoch, falling back to memory if there is none or if the closest
// candidate has already been committed (and so may have been superseded by
// a later commit that bypassed the buffer entirely).
func (dt *dependencyTracker) loadFromWbuf(info *addrRecord, epoch Epoch, src *int64) int64 {
	flags := dt.setReadFlag(info, epoch)
	_, writeBits := unpackFlags(flags)

	rollbackMask := ^dt.seq.RollbackFlags()
	writeBits &= rollbackMask

	firstEpoch := dt.seq.First()
	firstIdx := dt.seq.index(firstEpoch)
	lastEpoch := epoch + 1
	lastIdx := dt.seq.index(lastEpoch)

	var maskedFlags word
	if firstIdx < lastIdx {
		maskedFlags = writeBits & maskRange(word(firstEpoch), word(lastEpoch), dt.epochMax)
	} else {
		maskedFlags = writeBits & maskRange(0, lastIdx, dt.epochMax)
		if maskedFlags == 0 {
			maskedFlags = writeBits & maskRange(firstIdx, dt.epochMax, dt.epochMax)
		}
	}

	if maskedFlags != 0 {
		readIdx := log2Floor(maskedFlags)
		readEpoch := dt.indexToEpochBefore(epoch, readIdx)
		if epochCompare(readEpoch, Epoch(info.lastCommit.Load())) > 0 {
			return info.writeBuffer[readIdx]
		}
	}

	return atomic.LoadInt64(src)
}

// depViolationCheck masks read_bits down to the slots of later, still-live
// epochs; if any remain, the earliest of them raced ahead of this store and
// must be rolled back.
func (dt *dependencyTracker) depViolationCheck(epoch Epoch, readFlags word) {
	firstEpoch := epoch + 1
	lastEpoch := dt.seq.Last()
	if epochCompare(firstEpoch, lastEpoch) >= 0 {
		return
	}

	readFlags &= ^dt.seq.RollbackFlags()

	firstIdx := dt.seq.index(firstEpoch)
	lastIdx := dt.seq.index(lastEpoch)

	var flags word
	if firstIdx < lastIdx {
		flags = readFlags & maskRange(word(firstEpoch), word(lastEpoch), dt.epochMax)
	} else {
		flags = readFlags & maskRange(firstIdx, dt.epochMax, dt.epochMax)
		if flags == 0 {
			flags = readFlags & maskRange(0, lastIdx, dt.epochMax)
		}
	}
	if flags == 0 {
		return
	}

	rollbackIdx := trailingZeros(flags)
	rollbackEpoch := dt.indexToEpochAfter(epoch, rollbackIdx)
	dt.metrics.addViolation()
	dt.seq.DoRollback(rollbackEpoch)
}

// Store buffers *src into dest's record for epoch and rolls back the
// earliest later epoch that already read dest, if any.
func (dt *dependencyTracker) Store(poolID int, src, dest *int64) {
	alignmentCheck(dest)
	epoch := dt.getEpoch(poolID)
	info := dt.getMapAddrInfo(poolID, dest)
	readFlags := dt.storeToWbuf(info, epoch, *src)
	dt.depViolationCheck(epoch, readFlags)
}

// StoreFast is Store using indexID's cached record instead of a map probe.
func (dt *dependencyTracker) StoreFast(poolID, indexID int, src, dest *int64) {
	alignmentCheck(dest)
	epoch := dt.getEpoch(poolID)
	info := dt.getIndexAddrInfo(poolID, indexID, dest)
	readFlags := dt.storeToWbuf(info, epoch, *src)
	dt.depViolationCheck(epoch, readFlags)
}

// Load forwards the latest buffered write from src's record into *dest, or
// reads memory if nothing is forwardable.
func (dt *dependencyTracker) Load(poolID int, src, dest *int64) {
	alignmentCheck(src)
	epoch := dt.getEpoch(poolID)
	info := dt.getMapAddrInfo(poolID, src)
	*dest = dt.loadFromWbuf(info, epoch, src)
}

// LoadFast is Load using indexID's cached record instead of a map probe.
func (dt *dependencyTracker) LoadFast(poolID, indexID int, src, dest *int64) {
	alignmentCheck(src)
	epoch := dt.getEpoch(poolID)
	info := dt.getIndexAddrInfo(poolID, indexID, src)
	*dest = dt.loadFromWbuf(info, epoch, src)
}

// Commit publishes epoch's buffered writes to memory and clears its bits
// on every record it touched. A record's commitLock is only ever held for
// the duration of one word write plus a flag clear; stores never take it.
func (dt *dependencyTracker) Commit(epoch Epoch) {
	idx := bitIndex(word(epoch), dt.epochMax)
	mask := bitMask(word(epoch), dt.epochMax)
	dt.metrics.addCommit()

	for {
		info := dt.infoListPop(epoch)
		if info == nil {
			return
		}

		info.commitLock.Lock()
		_, writeBits := unpackFlags(info.flags.Load())
		if writeBits&mask != 0 && epochCompare(epoch, Epoch(info.lastCommit.Load())) > 0 {
			atomic.StoreInt64(info.ptr, info.writeBuffer[idx])
			info.lastCommit.Store(uint64(epoch))
		}
		dt.clearFlags(info, epoch)
		info.commitLock.Unlock()
	}
}

// Rollback discards epoch's buffered writes: every touched record's bits
// for this slot are cleared without ever touching lastCommit, since
// committed writes are permanent.
func (dt *dependencyTracker) Rollback(epoch Epoch) {
	dt.metrics.addRollback()
	for {
		info := dt.infoListPop(epoch)
		if info == nil {
			return
		}
		dt.clearFlags(info, epoch)
	}
}
