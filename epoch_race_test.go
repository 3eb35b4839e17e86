package tlsloop

import (
	"sync"
	"testing"
)

// TestSequencerConcurrentNextEpochIsExactlyOnce drives many goroutines
// racing NextEpoch/SetDone/NextCommit/CommitDone against a single
// sequencer with no rollbacks triggered, and checks every epoch up to N
// is claimed, done, and committed exactly once. Run with -race.
func TestSequencerConcurrentNextEpochIsExactlyOnce(t *testing.T) {
	const workers = 8
	const n = 2000

	s := newSequencer(workers)
	s.Stop(Epoch(n - 1))

	claimed := make([]int32, n)
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				epoch, _, ok := s.NextEpoch()
				if !ok {
					return
				}
				mu.Lock()
				claimed[epoch]++
				mu.Unlock()

				s.SetDone(epoch)

				for {
					commitEpoch, _, ok := s.NextCommit()
					if !ok {
						break
					}
					s.CommitDone(commitEpoch)
				}
			}
		}()
	}
	wg.Wait()

	// Drain any commits left pending after the halt.
	for {
		commitEpoch, _, ok := s.NextCommit()
		if !ok {
			break
		}
		s.CommitDone(commitEpoch)
	}

	for i, c := range claimed {
		if c != 1 {
			t.Fatalf("epoch %d claimed %d times, want exactly 1", i, c)
		}
	}
	if got := s.First(); got != Epoch(n) {
		t.Fatalf("First() = %d, want %d (every epoch committed)", got, n)
	}
}
