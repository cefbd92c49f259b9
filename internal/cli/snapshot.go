package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docstate/internal/persist"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the raw persisted snapshot",
		Long: `Print the snapshot exactly as stored. Sealed fields appear only as
ciphertext in the "encrypted" list, so this is safe to share.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(rootOpts, cmd)
		},
	}
	return cmd
}

func runSnapshot(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	be, err := openBackend(cfg, newLogger(cmd.ErrOrStderr(), opts.Verbose))
	if err != nil {
		return err
	}
	defer be.close()

	data, ok, err := be.kv.Get(context.Background(), persist.SnapshotKey(cfg.Name))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("no snapshot for store %q", cfg.Name))
	}

	out := newFormatter(cmd, opts)
	if opts.Format == "json" {
		return out.Success(json.RawMessage(data))
	}
	fmt.Fprintf(out.Writer, "%s\n", data)
	return nil
}
