// Command tlsloopbench drives the tlsloop runtime through a few canned
// workloads, useful for eyeballing commit/rollback/resize counts under
// different contention shapes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "tlsloopbench",
	Short:   "Drive the tlsloop speculative-execution runtime through canned workloads",
	Version: "0.1.0",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stressCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
