// Command convergence detects cross-agent convergence and publishes
// verifiable scores to the ledger.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/convergence/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
