package tlsloop

import (
	"testing"
	"unsafe"
)

func TestAddrMapProbeInsertAndFind(t *testing.T) {
	m := newAddrMap(8, nil)

	var x int64
	addr := uintptr(unsafe.Pointer(&x))
	candidate := &addrRecord{ptr: &x}

	got := m.Probe(addr, candidate)
	if got != candidate {
		t.Fatalf("first Probe for a new address should install and return the candidate")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}

	// Probing the same address again with a different candidate must
	// return the ORIGINAL record, not overwrite it.
	other := &addrRecord{ptr: &x}
	got2 := m.Probe(addr, other)
	if got2 != candidate {
		t.Fatalf("second Probe for the same address returned a different record")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() after re-probe = %d, want 1", m.Len())
	}
}

func TestAddrMapDistinctAddressesGetDistinctRecords(t *testing.T) {
	m := newAddrMap(8, nil)

	var xs [64]int64
	records := make(map[*addrRecord]bool)
	for i := range xs {
		addr := uintptr(unsafe.Pointer(&xs[i]))
		candidate := &addrRecord{ptr: &xs[i]}
		got := m.Probe(addr, candidate)
		records[got] = true
	}

	if len(records) != len(xs) {
		t.Fatalf("got %d distinct records, want %d", len(records), len(xs))
	}
	if m.Len() != len(xs) {
		t.Fatalf("Len() = %d, want %d", m.Len(), len(xs))
	}
}

func TestAddrMapGrowsAndPreservesEntries(t *testing.T) {
	m := newAddrMap(4, nil) // small hint: forces several resizes below

	const n = 500
	var xs [n]int64
	inserted := make([]*addrRecord, n)
	for i := range xs {
		addr := uintptr(unsafe.Pointer(&xs[i]))
		candidate := &addrRecord{ptr: &xs[i]}
		inserted[i] = m.Probe(addr, candidate)
	}

	if m.Len() != n {
		t.Fatalf("Len() = %d, want %d", m.Len(), n)
	}

	for i := range xs {
		addr := uintptr(unsafe.Pointer(&xs[i]))
		got := m.Probe(addr, &addrRecord{})
		if got != inserted[i] {
			t.Fatalf("address %d: record changed across resize", i)
		}
	}
}

func TestAddrMapMetricsCountsResizes(t *testing.T) {
	metrics := &Metrics{}
	m := newAddrMap(4, metrics)

	var xs [200]int64
	for i := range xs {
		addr := uintptr(unsafe.Pointer(&xs[i]))
		m.Probe(addr, &addrRecord{ptr: &xs[i]})
	}

	if metrics.Snapshot().Resizes == 0 {
		t.Error("expected at least one resize to be recorded")
	}
}
