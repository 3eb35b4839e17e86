package tlsloop

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// WorkerFunc is the function a worker goroutine runs for one dispatch; it
// returns false to report a failure for this run.
type WorkerFunc func(poolID int, data any) bool

// poolTask is a single fan-out/barrier round: every worker runs fn once and
// signals barrier, which Exec itself waits on directly.
type poolTask struct {
	fn      WorkerFunc
	data    any
	barrier sync.WaitGroup
	failed  atomic.Bool
}

// workerPool is a fixed-size pool of goroutines, grounded on tpool.c: each
// worker is launched once, optionally pinned to its own CPU for its whole
// lifetime, then blocks on a condition variable waiting for the next task
// to be broadcast. Exec dispatches one task to every worker and blocks
// until all of them have run it exactly once.
//
// Workers distinguish a genuinely new task from the previous one still
// sitting in wp.task via a generation counter bumped on every Exec; tpool.c
// instead cleared the task pointer and had only worker 0 re-signal, which
// admits a race where a worker loops back before the clear lands and reruns
// the prior round's task. The generation counter removes that window
// without changing the broadcast/condvar shape.
type workerPool struct {
	size   int
	pin    bool
	logger Logger

	mu      sync.Mutex
	cond    *sync.Cond
	task    *poolTask
	gen     int
	closed  bool
	workers sync.WaitGroup
}

func newWorkerPool(size int, pin bool, logger Logger) *workerPool {
	wp := &workerPool{size: size, pin: pin, logger: logger}
	wp.cond = sync.NewCond(&wp.mu)
	wp.workers.Add(size)
	for i := 0; i < size; i++ {
		go wp.workerLoop(i)
	}
	return wp
}

// pinToCPU pins the calling OS thread to cpu, matching tpool.c's one
// worker-per-core assignment (worker i -> CPU i) rather than a round-robin
// or NUMA-aware scheme.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu % runtime.NumCPU())
	return unix.SchedSetaffinity(0, &set)
}

func (wp *workerPool) workerLoop(poolID int) {
	defer wp.workers.Done()

	if wp.pin {
		runtime.LockOSThread()
		if err := pinToCPU(poolID); err != nil && wp.logger != nil {
			wp.logger.Warnf("tlsloop: pin worker %d to cpu %d: %v", poolID, poolID, err)
		}
	}

	lastGen := 0
	for {
		wp.mu.Lock()
		for wp.gen == lastGen && !wp.closed {
			wp.cond.Wait()
		}
		halt := wp.closed && wp.gen == lastGen
		task := wp.task
		lastGen = wp.gen
		wp.mu.Unlock()

		if halt {
			return
		}

		if !task.fn(poolID, task.data) {
			task.failed.Store(true)
		}
		task.barrier.Done()
	}
}

// Exec broadcasts fn to every worker and blocks until every one of them has
// run it once. Returns false iff any worker's fn returned false.
func (wp *workerPool) Exec(fn WorkerFunc, data any) bool {
	task := &poolTask{fn: fn, data: data}
	task.barrier.Add(wp.size)

	wp.mu.Lock()
	wp.task = task
	wp.gen++
	wp.cond.Broadcast()
	wp.mu.Unlock()

	task.barrier.Wait()
	return !task.failed.Load()
}

// Size returns the number of workers in the pool.
func (wp *workerPool) Size() int { return wp.size }

// Close signals every worker to exit and waits for them to do so. No Exec
// call may be in flight when Close is called.
func (wp *workerPool) Close() {
	wp.mu.Lock()
	wp.closed = true
	wp.cond.Broadcast()
	wp.mu.Unlock()
	wp.workers.Wait()
}
