// Command geoattend tracks presence in an office zone and records attendance.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/geoattend/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "geoattend:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
