package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	tlsloop "github.com/joeycumines/go-tlsloop"
)

var stressCmdArgs struct {
	Workers       int
	KeysPerWorker int
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Hammer the address map with disjoint per-worker keys to force resizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStress(stressCmdArgs.Workers, stressCmdArgs.KeysPerWorker)
	},
}

func init() {
	stressCmd.Flags().IntVarP(&stressCmdArgs.Workers, "workers", "w", 0, "Worker count (0 = GOMAXPROCS)")
	stressCmd.Flags().IntVarP(&stressCmdArgs.KeysPerWorker, "keys", "k", 10000, "Keys per worker; the run stores to workers*keys distinct slots")
}

// runStress is S5: workers*keysPerWorker iterations, handed to whichever
// worker is free, each store to their own slot, forcing the address map to
// grow through several cooperative resizes while insertions are still in
// flight.
func runStress(workers, keysPerWorker int) error {
	rt, err := tlsloop.NewRuntime(
		tlsloop.WithWorkers(workers),
		tlsloop.WithMapCapacityHint(64), // deliberately small: force growth
		tlsloop.WithMetrics(true),
	)
	if err != nil {
		return err
	}
	defer rt.Close()

	p := rt.Workers()
	iterations := p * keysPerWorker
	slots := make([]int64, iterations)

	var k int64
	err = rt.ExecSimple(func(poolID int) tlsloop.ExecResult {
		var cur int64
		rt.Load(poolID, &k, &cur)
		next := cur + 1
		rt.Store(poolID, &next, &k)

		value := cur + 1
		rt.Store(poolID, &value, &slots[cur])

		if next >= int64(iterations) {
			return tlsloop.Break
		}
		return tlsloop.Continue
	})
	if err != nil {
		return err
	}

	for i, v := range slots {
		if v != int64(i+1) {
			return fmt.Errorf("slot %d: want %d, got %d", i, i+1, v)
		}
	}

	snap := rt.Metrics()
	fmt.Fprintf(os.Stdout, "stress: workers=%d keys=%d commits=%d rollbacks=%d violations=%d resizes=%d\n",
		p, iterations, snap.Commits, snap.Rollbacks, snap.Violations, snap.Resizes)
	return nil
}
