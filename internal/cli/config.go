package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with configuration files",
	}

	check := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a config file and print the effective settings",
		Long: `Validate a config file against the schema and print the settings that
"cadence run" would use, defaults filled in.

The file is the positional argument, or --config when none is given.

Exit codes:
  0 - Config valid
  2 - Config missing or invalid`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := *rootOpts
			if len(args) == 1 {
				opts.Config = args[0]
			}
			return runConfigCheck(&opts, cmd)
		},
	}

	cmd.AddCommand(check)
	return cmd
}

func runConfigCheck(opts *RootOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts)

	cfg, err := loadConfig(opts)
	if err != nil {
		var details any
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) && cfgErr.Pos.IsValid() {
			details = map[string]any{
				"file":   cfgErr.Pos.Filename(),
				"line":   cfgErr.Pos.Line(),
				"column": cfgErr.Pos.Column(),
			}
		}
		_ = out.Error(ErrCodeConfig, err.Error(), details)
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	out.VerboseLog("loaded %s", describeSource(opts.Config))

	data, err := cfg.YAML()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render config", err)
	}

	if opts.Format == "json" {
		var effective map[string]any
		if err := yaml.Unmarshal(data, &effective); err != nil {
			return WrapExitError(ExitFailure, "failed to render config", err)
		}
		return out.Success(effective)
	}
	return out.Success(strings.TrimRight(string(data), "\n"))
}

func describeSource(path string) string {
	if path == "" {
		return "built-in defaults"
	}
	return path
}
