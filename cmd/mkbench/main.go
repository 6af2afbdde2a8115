// Command mkbench benchmarks concurrent access to tree-structured,
// versioned storage backends.
package main

import (
	"fmt"
	"os"

	"github.com/eunmann/mkbench/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
