// Command cadence runs and maintains a population of scheduled entities.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/cadence/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cadence:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
