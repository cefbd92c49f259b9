package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docstate/internal/ir"
	"github.com/roach88/docstate/internal/state"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [path]",
		Short: "Print the state, or the value at a dot path",
		Long: `Print the decrypted state of the store, or the value at a dot path.

Exit codes:
  0 - Value printed
  1 - Nothing at the given path
  2 - Command error (database not found, etc.)

Examples:
  docstate get --db ./docstate.db
  docstate get user.name --db ./docstate.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, cmd, args)
		},
	}
	return cmd
}

func runGet(opts *RootOptions, cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	var v ir.IRValue
	if len(args) == 0 {
		st, err := sess.store.GetState()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read state", err)
		}
		v = st
	} else {
		v, err = sess.store.Select(state.Path(args[0]))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read state", err)
		}
		if v == nil {
			return NewExitError(ExitFailure, fmt.Sprintf("no value at %q", args[0]))
		}
	}
	return newFormatter(cmd, opts).Value(v)
}
