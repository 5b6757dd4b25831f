// Command indextrack tracks when source records were first indexed, when they
// last changed, and whether they are deleted.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/indextrack/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
