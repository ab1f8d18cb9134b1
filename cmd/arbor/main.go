// Command arbor runs, inspects and tests hierarchical workflows.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/arbor/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
