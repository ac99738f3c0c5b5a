package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// command is the body of a CLI command. 'ctx' is cancelled on SIGINT/SIGTERM
type command func(ctx context.Context, args []string) error

// BoundedCommand is a convenience function that takes a lower and upper bound
// on the number of positional arguments that a cobra command can recieve, and
// a definition of the command itself (in 'f') and return a func that can be
// added to a Cobra command-line tool
func BoundedCommand(minargs, maxargs int, f command) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		var err error
		argc := len(args)
		switch {
		case minargs > maxargs:
			err = fmt.Errorf("invalid arguments to 'boundedCommand': 'minargs' "+
				"must be <= 'maxargs', but got %d > %d", minargs, maxargs)
		case minargs == maxargs && argc != minargs:
			err = fmt.Errorf("expected exactly %d arguments, but got %d", minargs, argc)
		case argc < minargs:
			err = fmt.Errorf("expected at least %d arguments, but got %d", minargs, argc)
		case argc > maxargs:
			err = fmt.Errorf("expected at most %d arguments, but got %d", maxargs, argc)
		default:
			err = f(cmd.Context(), args)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			if argc < minargs || argc > maxargs {
				cmd.Usage()
			}
			os.Exit(1)
		}
	}
}
