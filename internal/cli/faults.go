package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritaslab/claimreg/internal/ir"
	"github.com/veritaslab/claimreg/internal/store"
)

// FaultsOptions holds flags for the faults command.
type FaultsOptions struct {
	*RootOptions
	Database string
	SinceSeq int64
	Module   string
}

// FaultsResult holds the recorded consistency faults.
type FaultsResult struct {
	Faults []ir.Fault `json:"faults"`
	Count  int        `json:"count"`
}

// NewFaultsCommand creates the faults command.
func NewFaultsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FaultsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "faults",
		Short: "List recorded consistency faults",
		Long: `List consistency faults recorded by reconciler sweeps.

Faults are append-only findings; they stay on record until the diverging
declarations are corrected and never block unrelated modules.

Exit codes:
  0 - no faults on record
  1 - faults found
  2 - command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFaults(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.SinceSeq, "since", 0, "only faults with seq greater than this")
	cmd.Flags().StringVar(&opts.Module, "module", "", "only faults naming this module")

	return cmd
}

func runFaults(opts *FaultsOptions, cmd *cobra.Command) error {
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

	var faults []ir.Fault
	if opts.Module != "" {
		faults, err = st.FaultsForModule(ctx, ir.ModuleID(opts.Module))
		if err == nil && opts.SinceSeq > 0 {
			filtered := faults[:0]
			for _, f := range faults {
				if f.Seq > opts.SinceSeq {
					filtered = append(filtered, f)
				}
			}
			faults = filtered
		}
	} else {
		faults, err = st.ReadFaults(ctx, opts.SinceSeq)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "read faults", err)
	}

	result := FaultsResult{Faults: faults, Count: len(faults)}
	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
		if len(faults) > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d fault(s) on record", len(faults)))
		}
		return nil
	}

	if len(faults) == 0 {
		fmt.Fprintln(formatter.Writer, "✓ No faults on record")
		return nil
	}
	for _, f := range faults {
		fmt.Fprintf(formatter.Writer, "✗ %s", f.Kind)
		if f.Canonical != "" {
			fmt.Fprintf(formatter.Writer, " [%s]", f.Canonical)
		}
		fmt.Fprintf(formatter.Writer, " %s", f.ModuleA)
		if f.ModuleB != "" && f.ModuleB != f.ModuleA {
			fmt.Fprintf(formatter.Writer, " vs %s", f.ModuleB)
		}
		fmt.Fprintf(formatter.Writer, " (seq %d)\n", f.Seq)
		fmt.Fprintf(formatter.Writer, "  %s\n", f.Detail)
	}
	fmt.Fprintf(formatter.Writer, "\n%d fault(s)\n", len(faults))
	return NewExitError(ExitFailure, fmt.Sprintf("%d fault(s) on record", len(faults)))
}
