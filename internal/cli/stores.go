package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docstate/internal/persist"
)

// NewStoresCommand creates the stores command.
func NewStoresCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stores",
		Short:         "List the stores that have a persisted snapshot",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStores(rootOpts, cmd)
		},
	}
}

func runStores(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	be, err := openBackend(cfg, newLogger(cmd.ErrOrStderr(), opts.Verbose))
	if err != nil {
		return err
	}
	defer be.close()

	if be.keys == nil {
		return NewExitError(ExitFailure, fmt.Sprintf("backend %q cannot list stores", cfg.Storage.Backend))
	}
	prefix := persist.SnapshotKey("")
	keys, err := be.keys(context.Background(), prefix)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list stores", err)
	}

	names := []string{}
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if strings.HasSuffix(name, ":crypto") {
			continue
		}
		names = append(names, name)
	}

	out := newFormatter(cmd, opts)
	if opts.Format == "json" {
		return out.Success(names)
	}
	if len(names) == 0 {
		fmt.Fprintln(out.Writer, "No stores.")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(out.Writer, n)
	}
	return nil
}
