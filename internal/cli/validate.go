package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/convergence/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Agents   []string `json:"agents,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file",
		Long: `Validate a config file against the schema and the cross-field rules
(unique agent kinds, ladder grades, postgres DSN when an agent uses it,
claim agent ids with the http ledger) without opening the database.

The file is the argument if given, otherwise --config.

Exit codes:
  0 - Config is valid
  1 - Config has problems (all of them are listed)
  2 - Command error (file not found, unreadable)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if path == "" {
		return outputValidateError(formatter, ErrCodeInvalidInput, "no config file: pass one or use --config")
	}
	if _, err := os.Stat(path); err != nil {
		return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path))
	}

	formatter.VerboseLog("Validating %s", path)
	cfg, err := config.Load(path)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return outputValidationErrors(formatter, ValidationResult{Path: path, Problems: verr.Problems})
		}
		// Unparseable YAML is a validation failure too.
		return outputValidationErrors(formatter, ValidationResult{Path: path, Problems: []string{err.Error()}})
	}

	result := ValidationResult{Path: path, Valid: true}
	for _, a := range cfg.Agents {
		result.Agents = append(result.Agents, a.Kind)
	}
	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ %s is valid (agents: %v)\n", result.Path, result.Agents)
	return nil
}

// outputValidateError outputs a single command error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every problem found.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	msg := fmt.Sprintf("validation failed with %d problem(s)", len(result.Problems))
	if formatter.JSON() {
		if err := formatter.Failure(result, ErrCodeInvalidConfig, msg); err != nil {
			return err
		}
		// Validation failures = exit code 1
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, p := range result.Problems {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", ErrCodeInvalidConfig, p)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, msg)
}
