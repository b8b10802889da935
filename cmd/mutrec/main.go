// Command mutrec compiles and evaluates queries with WITH MUTUALLY RECURSIVE
// bindings.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/mutrec/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
