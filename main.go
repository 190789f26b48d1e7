// Command taskforce is the entry point for the Taskforce process
// supervisor and orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/akfullfo/taskforce/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
