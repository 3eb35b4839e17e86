package tlsloop

// pooledAlloc is a per-worker single-object cache, grounded on yarn_pmem: a
// worker freeing an object stashes it in its own slot for reuse rather than
// returning it to a shared free list, so Alloc/Free on the hot path never
// contend with another worker's. Construct/destruct run only on the actual
// allocation/teardown of the backing value, not on cache hits.
type pooledAlloc[T any] struct {
	cache     *SlotStore[*T]
	construct func(*T)
	destruct  func(*T)
}

func newPooledAlloc[T any](workers int, construct, destruct func(*T)) *pooledAlloc[T] {
	return &pooledAlloc[T]{
		cache:     NewSlotStore[*T](workers),
		construct: construct,
		destruct:  destruct,
	}
}

// Alloc returns poolID's cached object if one is stashed, otherwise
// allocates and constructs a fresh one.
func (p *pooledAlloc[T]) Alloc(poolID int) *T {
	if v := p.cache.Load(poolID); v != nil {
		p.cache.Store(poolID, nil)
		return v
	}
	v := new(T)
	if p.construct != nil {
		p.construct(v)
	}
	return v
}

// Free stashes data in poolID's slot if it's empty, otherwise destructs it
// immediately: at most one object is ever cached per worker.
func (p *pooledAlloc[T]) Free(poolID int, data *T) {
	if p.cache.Load(poolID) == nil {
		p.cache.Store(poolID, data)
		return
	}
	if p.destruct != nil {
		p.destruct(data)
	}
}

// Close destructs every still-cached object. Called once, at runtime
// teardown.
func (p *pooledAlloc[T]) Close() {
	for i := 0; i < p.cache.Len(); i++ {
		if v := p.cache.Load(i); v != nil {
			if p.destruct != nil {
				p.destruct(v)
			}
			p.cache.Store(i, nil)
		}
	}
}
