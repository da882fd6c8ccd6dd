package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/veritaslab/claimreg/internal/clock"
	"github.com/veritaslab/claimreg/internal/graph"
	"github.com/veritaslab/claimreg/internal/registry"
	"github.com/veritaslab/claimreg/internal/store"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Database string
}

// SubmitResult holds the outcome of submitting one bundle directory.
type SubmitResult struct {
	Receipts  []registry.Receipt `json:"receipts"`
	Committed int                `json:"committed"`
	Duplicate int                `json:"duplicate"`
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <bundles-dir>",
		Short: "Validate and commit claim bundles to the registry",
		Long: `Compile, validate, and commit every claim bundle under a directory.

Each bundle commits atomically: a bundle that fails validation, collides
with an occupied declaration slot, or would create a derivation cycle
rejects wholesale and leaves the log untouched. Resubmitting an already
committed bundle is an idempotent no-op.

Exit codes:
  0 - all bundles committed (or were already committed)
  1 - one or more bundles rejected
  2 - command error (bad paths, database unavailable)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSubmit(opts *SubmitOptions, dir string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadBundles(dir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, loadErr.Message)
		}
		_ = formatter.Error(ErrCodeGeneric, loadErrors[0].Error(), nil)
		return NewExitError(ExitCommandError, loadErrors[0].Error())
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	lastSeq, err := st.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read log position", err)
	}
	reg := registry.New(st, clock.NewLogical(lastSeq), registry.NewUUIDTokens(), commandLogger(opts.RootOptions))

	result := SubmitResult{}
	for i := range loadResult.Bundles {
		b := loadResult.Bundles[i]
		formatter.VerboseLog("Submitting module: %s", b.ModuleID)

		receipt, err := reg.Submit(ctx, b)
		if err != nil {
			switch {
			case errors.Is(err, registry.ErrInvalidBundle),
				store.IsDuplicateVersion(err),
				graph.IsCyclicDependency(err):
				_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("module %s rejected: %v", b.ModuleID, err), nil)
				return NewExitError(ExitFailure, fmt.Sprintf("module %s rejected", b.ModuleID))
			default:
				return WrapExitError(ExitCommandError, fmt.Sprintf("submit %s", b.ModuleID), err)
			}
		}

		result.Receipts = append(result.Receipts, receipt)
		if receipt.Duplicate {
			result.Duplicate++
		} else {
			result.Committed++
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	return outputSubmitText(formatter, result)
}

func outputSubmitText(f *OutputFormatter, result SubmitResult) error {
	for _, r := range result.Receipts {
		if r.Duplicate {
			fmt.Fprintf(f.Writer, "= %s already committed (bundle %s)\n", r.ModuleID, shortHash(r.BundleHash))
		} else {
			fmt.Fprintf(f.Writer, "✓ %s committed at seq %d (token %s)\n", r.ModuleID, r.Seq, r.Token)
		}
		for _, v := range r.Certificates {
			marker := "✓"
			if !v.Passed() {
				marker = "✗"
			}
			fmt.Fprintf(f.Writer, "  %s certificate %s: %s", marker, v.CertificateID, v.Status)
			if v.Reason != "" {
				fmt.Fprintf(f.Writer, " (%s)", v.Reason)
			}
			fmt.Fprintln(f.Writer)
		}
		pass, fail, open := r.SelfValidation.Counts()
		if pass+fail+open > 0 {
			fmt.Fprintf(f.Writer, "  self-validation: %d pass, %d fail, %d no expectation\n", pass, fail, open)
		}
	}
	fmt.Fprintf(f.Writer, "\n%d committed, %d duplicate\n", result.Committed, result.Duplicate)
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// commandLogger builds the slog logger shared by store-backed commands.
// Quiet by default; verbose mode surfaces the registry's info logs.
func commandLogger(opts *RootOptions) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
}
