package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritaslab/claimreg/internal/bundle"
)

// ValidationResult holds validation results for one bundle directory.
type ValidationResult struct {
	Valid   bool                     `json:"valid"`
	Bundles int                      `json:"bundles"`
	Errors  []bundle.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <bundles-dir>",
		Short: "Validate claim bundles without committing them",
		Long: `Compile and validate CUE claim bundles without touching a database.

Checks declaration syntax, categories, comparator bounds, expectation
intervals, and local derivation cycles. Collects every finding in one
pass rather than stopping at the first.

Exit codes:
  0 - all bundles valid
  1 - validation errors found
  2 - command error (directory missing, unreadable files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadBundles(dir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Message)
		}
		_ = formatter.Error(ErrCodeGeneric, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	var allErrors []bundle.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			allErrors = append(allErrors, bundle.ValidationError{
				Field:   "load",
				Message: loadErr.Error(),
				Code:    loadErr.Code,
			})
		}
	}
	for i := range loadResult.Bundles {
		b := &loadResult.Bundles[i]
		formatter.VerboseLog("Validating module: %s", b.ModuleID)
		allErrors = append(allErrors, bundle.Validate(b)...)
	}

	result := ValidationResult{
		Valid:   len(allErrors) == 0,
		Bundles: len(loadResult.Bundles),
		Errors:  allErrors,
	}

	if formatter.Format == "json" {
		if result.Valid {
			return formatter.Success(result)
		}
		_ = formatter.Error(allErrors[0].Code, allErrors[0].Message, result)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(allErrors)))
	}

	if result.Valid {
		fmt.Fprintf(formatter.Writer, "✓ %d bundle(s) valid\n", result.Bundles)
		return nil
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range allErrors {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", e.Code, e.Field, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(allErrors)))
}
