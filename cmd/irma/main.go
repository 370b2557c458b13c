package main

import (
	"fmt"
	"os"

	"github.com/irmahq/irma/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands print their own diagnostics; Execute's error carries
		// the exit code only.
		if code := cli.GetExitCode(err); code != cli.ExitSuccess {
			if _, ok := err.(*cli.ExitError); !ok {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
			os.Exit(code)
		}
	}
}
