package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritaslab/claimreg/internal/ir"
	"github.com/veritaslab/claimreg/internal/ssot"
	"github.com/veritaslab/claimreg/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
}

// StatusResult holds the aggregated registry status.
type StatusResult struct {
	Summary ssot.Summary        `json:"summary"`
	Modules []ssot.ModuleStatus `json:"modules"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status [module]",
		Short: "Show per-module and global registry status",
		Long: `Report completeness and cleanliness for registered modules.

A module is complete when it carries parameters, formulas, certificates,
self-validation checks, and references. It is clean when its certificates
and checks pass and no consistency fault names it. Statuses are projections
recomputed from the log on every read; nothing here is stored.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			module := ""
			if len(args) == 1 {
				module = args[0]
			}
			return runStatus(opts, module, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(opts *StatusOptions, module string, cmd *cobra.Command) error {
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

	agg := ssot.New(st)

	if module != "" {
		status, err := agg.ModuleStatus(ctx, ir.ModuleID(module))
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("status for %s", module), err)
		}
		if formatter.Format == "json" {
			return formatter.Success(status)
		}
		printModuleStatus(formatter, status, true)
		return nil
	}

	summary, err := agg.GlobalSummary(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "global status", err)
	}
	statuses, err := agg.AllModuleStatuses(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "global status", err)
	}

	result := StatusResult{Summary: summary, Modules: statuses}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "Registry: %d module(s), %d complete, %d clean\n",
		summary.TotalModules, summary.CompleteModules, summary.CleanModules)
	if summary.FaultCount > 0 {
		fmt.Fprintf(formatter.Writer, "Faults: %d open across %d module(s)\n",
			summary.FaultCount, summary.ModulesWithFaults)
	}
	fmt.Fprintln(formatter.Writer)
	for _, status := range statuses {
		printModuleStatus(formatter, status, opts.Verbose)
	}
	return nil
}

func printModuleStatus(f *OutputFormatter, status ssot.ModuleStatus, verbose bool) {
	marker := "✓"
	switch {
	case !status.Clean():
		marker = "✗"
	case !status.Complete():
		marker = "~"
	}
	fmt.Fprintf(f.Writer, "%s %s", marker, status.ModuleID)
	if !status.Complete() {
		fmt.Fprint(f.Writer, " (incomplete)")
	}
	if status.FaultCount > 0 {
		fmt.Fprintf(f.Writer, " [%d fault(s)]", status.FaultCount)
	}
	fmt.Fprintln(f.Writer)

	if !verbose {
		return
	}
	fmt.Fprintf(f.Writer, "  parameters=%v formulas=%v certificates=%v checks=%v references=%v\n",
		status.HasParameters, status.HasFormulas, status.HasCertificates,
		status.HasSelfValidation, status.HasReferences)
	fmt.Fprintf(f.Writer, "  certificates passed=%v self-validation passed=%v\n",
		status.CertificatesPassed, status.SelfValidationPassed)
}
