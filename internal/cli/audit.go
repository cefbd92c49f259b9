package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docstate/internal/audit"
	"github.com/roach88/docstate/internal/ir"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List retained audit entries",
		Long: `List the audit entries still inside the retention window, oldest first.
Sensitive values appear as "[ENCRYPTED]".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(rootOpts, cmd)
		},
	}
	return cmd
}

func runAudit(opts *RootOptions, cmd *cobra.Command) error {
	sess, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	entries, err := sess.store.AuditEntries(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list audit entries", err)
	}

	out := newFormatter(cmd, opts)
	if opts.Format == "json" {
		if entries == nil {
			entries = []audit.Entry{}
		}
		return out.Success(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out.Writer, "No audit entries.")
		return nil
	}
	for _, e := range entries {
		data, err := ir.MarshalCanonical(e.Data)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode audit entry", err)
		}
		ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339Nano)
		fmt.Fprintf(out.Writer, "%s  %-10s %s %s\n", ts, e.Action, e.ID, data)
	}
	return nil
}
