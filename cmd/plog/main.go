// plog is the prayer and activity attendance tracker.
//
// It records attendance into a device-local cache that works fully
// offline, and synchronizes with a shared server whenever one is
// reachable.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
