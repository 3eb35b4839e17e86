package tlsloop

import "testing"

type poolPayload struct {
	constructed bool
	destructed  bool
	value       int
}

func TestPooledAllocReuse(t *testing.T) {
	var constructCount, destructCount int
	alloc := newPooledAlloc[poolPayload](2,
		func(p *poolPayload) { p.constructed = true; constructCount++ },
		func(p *poolPayload) { p.destructed = true; destructCount++ },
	)

	v1 := alloc.Alloc(0)
	if !v1.constructed {
		t.Fatal("fresh object not constructed")
	}
	v1.value = 7

	// Free it; the next Alloc for the same worker must return the SAME
	// object (cache hit), not call construct again.
	alloc.Free(0, v1)
	v2 := alloc.Alloc(0)
	if v2 != v1 {
		t.Fatalf("Alloc after Free returned a different object: %p vs %p", v2, v1)
	}
	if constructCount != 1 {
		t.Errorf("constructCount = %d, want 1 (no reconstruction on cache hit)", constructCount)
	}

	// Free twice in a row: the second object can't be cached (slot
	// already holds one), so it's destructed immediately.
	other := &poolPayload{}
	alloc.Free(0, v2)
	alloc.Free(0, other)
	if !other.destructed {
		t.Error("second Free in a row should destruct the object instead of caching it")
	}
	if destructCount != 1 {
		t.Errorf("destructCount = %d, want 1", destructCount)
	}
}

func TestPooledAllocPerWorkerIsolation(t *testing.T) {
	alloc := newPooledAlloc[poolPayload](2, nil, nil)

	v0 := alloc.Alloc(0)
	v0.value = 100
	alloc.Free(0, v0)

	v1 := alloc.Alloc(1)
	if v1 == v0 {
		t.Fatal("worker 1's Alloc should not see worker 0's cached object")
	}
}

func TestPooledAllocClose(t *testing.T) {
	var destructed []int
	alloc := newPooledAlloc[poolPayload](3, nil, func(p *poolPayload) {
		destructed = append(destructed, p.value)
	})

	for i := 0; i < 3; i++ {
		v := alloc.Alloc(i)
		v.value = i
		alloc.Free(i, v)
	}

	alloc.Close()
	if len(destructed) != 3 {
		t.Fatalf("Close destructed %d objects, want 3", len(destructed))
	}
}
