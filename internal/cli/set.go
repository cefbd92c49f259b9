package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/docstate/internal/ir"
	"github.com/roach88/docstate/internal/state"
)

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <json>",
		Short: "Merge a JSON object into the state",
		Long: `Merge a JSON object into the state and persist the result.

Each top-level key replaces the stored value. Sensitive paths are sealed
before the snapshot is written. Prints the resulting state.

Examples:
  docstate set '{"user":{"name":"ann"}}' --db ./docstate.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(rootOpts, cmd, args[0])
		},
	}
	return cmd
}

func runSet(opts *RootOptions, cmd *cobra.Command, doc string) error {
	partial, err := ir.ParseObject([]byte(doc))
	if err != nil {
		return WrapExitError(ExitFailure, "invalid JSON object", err)
	}

	sess, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.store.SetState(partial, state.WithBatch(false)); err != nil {
		if state.IsValidationError(err) {
			return WrapExitError(ExitFailure, "update rejected", err)
		}
		return WrapExitError(ExitCommandError, "update failed", err)
	}
	return finish(sess, cmd, opts)
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset [json]",
		Short: "Replace the whole state",
		Long: `Replace the whole state with the given JSON object, or with {} when
omitted. The persisted snapshot is deleted and rewritten.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := "{}"
			if len(args) == 1 {
				doc = args[0]
			}
			return runReset(rootOpts, cmd, doc)
		},
	}
	return cmd
}

func runReset(opts *RootOptions, cmd *cobra.Command, doc string) error {
	next, err := ir.ParseObject([]byte(doc))
	if err != nil {
		return WrapExitError(ExitFailure, "invalid JSON object", err)
	}

	sess, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	// Reset deletes the snapshot; the new contents are written back as an
	// ordinary update so they outlive this process.
	if err := sess.store.Reset(nil); err != nil {
		return WrapExitError(ExitCommandError, "reset failed", err)
	}
	if err := sess.store.SetState(next, state.WithBatch(false)); err != nil {
		if state.IsValidationError(err) {
			return WrapExitError(ExitFailure, "reset rejected", err)
		}
		return WrapExitError(ExitCommandError, "reset failed", err)
	}
	return finish(sess, cmd, opts)
}

// finish reads the committed state, closes the session so everything is
// flushed, and prints the state.
func finish(sess *session, cmd *cobra.Command, opts *RootOptions) error {
	st, err := sess.store.GetState()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read state", err)
	}
	if err := sess.Close(); err != nil {
		return err
	}
	return newFormatter(cmd, opts).Value(st)
}
