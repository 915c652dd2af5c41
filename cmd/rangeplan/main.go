// Command rangeplan compiles index catalogs and explains, runs, traces and
// replays range queries against them.
package main

import (
	"os"

	"github.com/roach88/rangeplan/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
