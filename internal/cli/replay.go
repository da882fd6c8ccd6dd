package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritaslab/claimreg/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the append log and verify content addressing",
		Long: `Replay the whole append log and recompute every content-addressed id.

Every value version, formula version, and fault id is re-derived from its
stored declaration and compared against the stored id, and supersede
chains are checked for broken links. Reads only; never repairs.

Exit codes:
  0 - log replays clean
  1 - integrity findings (mismatched ids or broken chains)
  2 - command error (database not found, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	report, err := st.VerifyIntegrity(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "integrity replay", err)
	}

	if formatter.Format == "json" {
		if report.Clean() {
			return formatter.Success(report)
		}
		_ = formatter.Error("E_INTEGRITY", "integrity verification failed", report)
		return NewExitError(ExitFailure, "integrity verification failed")
	}

	fmt.Fprintf(formatter.Writer, "Replayed %d value(s), %d formula(s), %d fault(s)\n",
		report.ValuesChecked, report.FormulasChecked, report.FaultsChecked)

	if report.Clean() {
		fmt.Fprintln(formatter.Writer, "✓ Log verified, all content hashes match")
		return nil
	}

	for _, m := range report.Mismatches {
		fmt.Fprintf(formatter.Writer, "✗ hash mismatch: %s\n", m)
	}
	for _, c := range report.BrokenChains {
		fmt.Fprintf(formatter.Writer, "✗ broken chain: %s\n", c)
	}
	return NewExitError(ExitFailure, "integrity verification failed")
}
