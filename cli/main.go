package main

import (
	"os"

	"github.com/lume-lang/lume/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
