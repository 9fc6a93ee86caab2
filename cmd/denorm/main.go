// Command denorm migrates a normalized PostgreSQL schema into denormalized
// MongoDB documents.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/denorm/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
