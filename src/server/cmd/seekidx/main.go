// Command seekidx inspects, verifies and copies seek indexes.
package main

import (
	"os"

	"github.com/pachyderm/seekidx/src/internal/cmdutil"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		cmdutil.ErrorAndExit(err)
	}
}
