package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/docstate/internal/config"
	"github.com/roach88/docstate/internal/ir"
	"github.com/roach88/docstate/internal/state"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Hold the store open and apply config changes live",
		Long: `Open the store, print its state, then print it again whenever this
process changes it. Edits to the --config file are applied with Reconfigure
without restarting, which may change what the state looks like.

Writes made by other docstate processes are not observed; the state is read
from storage once, at startup. Runs until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd)
		},
	}
	return cmd
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	if opts.ConfigPath == "" {
		return NewExitError(ExitCommandError, "watch requires --config")
	}
	sess, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newFormatter(cmd, opts)
	unsubscribe := sess.store.Subscribe(func(v ir.IRValue) {
		if err := out.Value(v); err != nil {
			sess.logger.Error("print state failed", "error", err)
		}
	}, nil, state.Immediate())
	defer unsubscribe()

	w, err := config.NewWatcher(opts.ConfigPath, func(cfg config.Config) {
		if err := sess.store.Reconfigure(cfg.Features); err != nil {
			sess.logger.Error("reconfigure failed", "error", err)
		}
	}, config.WatcherOptions{Logger: sess.logger})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to watch config", err)
	}
	w.Start(ctx)
	defer w.Close()

	<-ctx.Done()
	sess.logger.Info("watch stopped")
	return sess.Close()
}
