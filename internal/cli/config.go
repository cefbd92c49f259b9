package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/docstate/internal/config"
)

// ConfigValidateResult is the JSON payload of "config validate".
type ConfigValidateResult struct {
	File           string          `json:"file"`
	Name           string          `json:"name"`
	SensitivePaths []string        `json:"sensitive_paths"`
	Features       config.Features `json:"features"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with config files",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a config file",
		Long: `Validate a YAML config file: field constraints, and when the file names a
CUE schema, that every sensitive path exists in it.

Exit codes:
  0 - Config is valid
  1 - Config is invalid`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(rootOpts, cmd, args[0])
		},
	}
}

func runConfigValidate(opts *RootOptions, cmd *cobra.Command, path string) error {
	cfg, err := config.CheckFile(path)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	out := newFormatter(cmd, opts)
	out.VerboseLog("loaded %s", path)
	if opts.Format == "json" {
		paths := cfg.SensitivePaths
		if paths == nil {
			paths = []string{}
		}
		return out.Success(ConfigValidateResult{
			File:           filepath.Base(path),
			Name:           cfg.Name,
			SensitivePaths: paths,
			Features:       cfg.Features,
		})
	}
	fmt.Fprintf(out.Writer, "%s: ok (store %q, %d sensitive paths)\n", filepath.Base(path), cfg.Name, len(cfg.SensitivePaths))
	return nil
}
