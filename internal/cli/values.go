package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veritaslab/claimreg/internal/ir"
	"github.com/veritaslab/claimreg/internal/query"
	"github.com/veritaslab/claimreg/internal/store"
)

// ValuesOptions holds flags for the values command.
type ValuesOptions struct {
	*RootOptions
	Database  string
	Canonical string
	Module    string
	Category  string
	SinceSeq  int64
	Latest    bool
	Limit     int
}

// ValuesResult holds the matched value versions.
type ValuesResult struct {
	Values []ir.Value `json:"values"`
	Count  int        `json:"count"`
}

// NewValuesCommand creates the values command.
func NewValuesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValuesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "values",
		Short: "Query declared value versions",
		Long: `Query the append-only value log.

Filters combine with AND. Without --latest the full version history
matches, superseded declarations included. Results always come back in
log order (seq, then version id), so identical queries print identically.

Examples:
  claimreg values --db ./claims.db --module k7-topology --latest
  claimreg values --db ./claims.db --canonical BETTI_3
  claimreg values --db ./claims.db --category DERIVED --since 10 --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValues(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Canonical, "canonical", "", "filter by canonical quantity id")
	cmd.Flags().StringVar(&opts.Module, "module", "", "filter by module id")
	cmd.Flags().StringVar(&opts.Category, "category", "", "filter by category")
	cmd.Flags().Int64Var(&opts.SinceSeq, "since", 0, "only versions with seq greater than this")
	cmd.Flags().BoolVar(&opts.Latest, "latest", false, "head versions only")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of rows (0 = unlimited)")

	return cmd
}

func runValues(opts *ValuesOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	q := query.ValueQuery{
		Canonical:  ir.CanonicalID(opts.Canonical),
		Module:     ir.ModuleID(opts.Module),
		Category:   ir.Category(opts.Category),
		SinceSeq:   opts.SinceSeq,
		LatestOnly: opts.Latest,
		Limit:      opts.Limit,
	}
	sqlText, params, err := q.Compile()
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	values, err := st.RunValueQuery(ctx, sqlText, params)
	if err != nil {
		return WrapExitError(ExitCommandError, "value query", err)
	}

	result := ValuesResult{Values: values, Count: len(values)}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if len(values) == 0 {
		fmt.Fprintln(formatter.Writer, "No values matched.")
		return nil
	}
	for _, v := range values {
		fmt.Fprintf(formatter.Writer, "%s/%s = %s [%s] seq=%d version=%s",
			v.ModuleID, v.Name, v.Number, v.Category, v.Seq, shortHash(v.VersionID))
		if v.Canonical != "" {
			fmt.Fprintf(formatter.Writer, " canonical=%s", v.Canonical)
		}
		if v.Supersedes != "" {
			fmt.Fprintf(formatter.Writer, " supersedes=%s", shortHash(v.Supersedes))
		}
		fmt.Fprintln(formatter.Writer)
	}
	fmt.Fprintf(formatter.Writer, "\n%d value(s)\n", len(values))
	return nil
}
