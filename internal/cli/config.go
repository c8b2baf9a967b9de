package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/boardsync/internal/config"
)

// ConfigValidationResult holds validation results.
type ConfigValidationResult struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without contacting any service",
		Long: `Load configuration from --config and the environment and check it
against the schema. Every problem is reported, not just the first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(rootOpts, cmd)
		},
	}
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective configuration with secrets masked",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(rootOpts, cmd)
		},
	}
}

func runConfigValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return reportCommandError(formatter, ErrCodeConfig, WrapExitError(ExitCommandError, "failed to load configuration", err))
	}
	formatter.VerboseLog("Loaded configuration (file: %q)", opts.ConfigPath)

	result := ConfigValidationResult{Valid: true}
	if err := config.Validate(cfg); err != nil {
		var invalid *config.ValidationError
		if !errors.As(err, &invalid) {
			return reportCommandError(formatter, ErrCodeConfig, WrapExitError(ExitCommandError, "failed to validate configuration", err))
		}
		result = ConfigValidationResult{Valid: false, Problems: invalid.Problems}
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeConfig,
				Message: fmt.Sprintf("%d problem(s) found", len(result.Problems)),
				Details: result.Problems,
			}
		}
		if err := formatter.Response(resp); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		if result.Valid {
			fmt.Fprintln(w, "✓ Configuration is valid")
		} else {
			fmt.Fprintf(w, "✗ %d problem(s) found:\n", len(result.Problems))
			for _, p := range result.Problems {
				fmt.Fprintf(w, "  %s\n", p)
			}
		}
	}

	if !result.Valid {
		// Validation failures are the answer, not a malfunction.
		return NewExitError(ExitFailure, "configuration is invalid")
	}
	return nil
}

func runConfigShow(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return reportCommandError(formatter, ErrCodeConfig, WrapExitError(ExitCommandError, "failed to load configuration", err))
	}
	redacted := cfg.Redacted()

	if opts.Format == "json" {
		return formatter.Response(CLIResponse{Status: "ok", Data: redacted})
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(redacted); err != nil {
		return WrapExitError(ExitCommandError, "failed to encode configuration", err)
	}
	return enc.Close()
}
