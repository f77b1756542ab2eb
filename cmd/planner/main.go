// Command planner serves and drives the hybrid task-decomposition planner.
package main

import (
	"fmt"
	"os"

	"github.com/example/hybridplanner/cmd/planner/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
