package cmdutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

// PrintErrorStacks should be set to true if you want to print out a stack for errors that are
// returned by the run commands.
var PrintErrorStacks bool

// RunFixedArgs wraps a function in a cobra RunE function that checks its exact argument count.
func RunFixedArgs(numArgs int, run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return RunBoundedArgs(numArgs, numArgs, run)
}

// RunBoundedArgs wraps a function in a cobra RunE function that checks its argument count is
// within a range.
func RunBoundedArgs(min int, max int, run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < min || len(args) > max {
			if min == max {
				return errors.Errorf("expected %d arguments, got %d", min, len(args))
			}
			return errors.Errorf("expected %d to %d arguments, got %d", min, max, len(args))
		}
		return run(cmd, args)
	}
}

// ErrorAndExit prints err to stderr, with its stack if PrintErrorStacks is set, and exits.
func ErrorAndExit(err error) {
	if errString := strings.TrimSpace(err.Error()); errString != "" {
		fmt.Fprintf(os.Stderr, "%s\n", errString)
	}
	if PrintErrorStacks {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
	}
	os.Exit(1)
}
