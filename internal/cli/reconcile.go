package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritaslab/claimreg/internal/clock"
	"github.com/veritaslab/claimreg/internal/reconcile"
	"github.com/veritaslab/claimreg/internal/store"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Database    string
	Parallelism int
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Sweep the registry for cross-module inconsistencies",
		Long: `Run one reconciliation sweep over the whole registry.

Compares head values of every shared canonical quantity across modules
and cross-checks certificate verdicts against self-validation results.
Findings append as faults; a sweep over unchanged data appends nothing.

Exit codes:
  0 - sweep clean (no new faults)
  1 - new faults recorded
  2 - command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Parallelism, "parallelism", 0, "concurrent comparison tasks (0 = default)")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
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

	var recOpts []reconcile.Option
	if opts.Parallelism > 0 {
		recOpts = append(recOpts, reconcile.WithParallelism(opts.Parallelism))
	}
	rec := reconcile.New(st, clock.NewLogical(lastSeq), commandLogger(opts.RootOptions), recOpts...)

	result, err := rec.Sweep(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "reconcile sweep", err)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
		if result.NewFaults > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d new fault(s) recorded", result.NewFaults))
		}
		return nil
	}

	fmt.Fprintf(formatter.Writer, "Checked %d canonical(s) across %d module(s)\n",
		result.CanonicalsChecked, result.ModulesChecked)
	if result.NewFaults == 0 {
		fmt.Fprintln(formatter.Writer, "✓ Sweep clean, no new faults")
		return nil
	}
	for _, f := range result.Faults {
		fmt.Fprintf(formatter.Writer, "✗ %s: %s\n", f.Kind, f.Detail)
	}
	fmt.Fprintf(formatter.Writer, "\n%d new fault(s) recorded\n", result.NewFaults)
	return NewExitError(ExitFailure, fmt.Sprintf("%d new fault(s) recorded", result.NewFaults))
}
