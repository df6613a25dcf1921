// Command epochflow inspects and compacts dataflow recovery stores.
package main

import (
	"fmt"
	"os"

	"github.com/randalmurphal/epochflow/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
