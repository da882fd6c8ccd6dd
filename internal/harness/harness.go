// Package harness runs conformance scenarios against a real registry.
//
// Each scenario executes against a fresh in-memory store with a
// deterministic clock and fixed submission tokens, so the same scenario
// always produces the same receipts, the same fault set, and the same
// golden snapshot. Snapshots are hash-free: content-addressed ids appear
// nowhere in them, so regenerating identity derivation does not churn
// every golden file.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/veritaslab/claimreg/internal/reconcile"
	"github.com/veritaslab/claimreg/internal/registry"
	"github.com/veritaslab/claimreg/internal/ssot"
	"github.com/veritaslab/claimreg/internal/store"
	"github.com/veritaslab/claimreg/internal/testutil"
)

// Result is the outcome of one scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors lists assertion failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Receipts holds one receipt per submission, in scenario order.
	Receipts []registry.Receipt `json:"receipts"`

	// Sweep is the reconciliation result; nil when the scenario does not sweep.
	Sweep *reconcile.Result `json:"sweep,omitempty"`

	// Statuses holds the final per-module projections.
	Statuses []ssot.ModuleStatus `json:"statuses"`
}

// AddError records an assertion failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Run executes a scenario against a fresh in-memory registry.
//
// Execution order: submit every bundle in scenario order, optionally run
// one reconciler sweep, project final module statuses, then evaluate
// assertions. A submission that rejects is a scenario error, not an
// assertion failure - scenarios describe registries that accept their
// input.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClock(0)
	reg := registry.New(st, clock, testutil.NewFixedTokenGenerator(), logger)

	ctx := context.Background()
	result := &Result{Pass: true}

	for i, sub := range scenario.Submissions {
		receipt, err := reg.Submit(ctx, sub.toBundle())
		if err != nil {
			return nil, fmt.Errorf("submission %d (%s): %w", i, sub.Module, err)
		}
		result.Receipts = append(result.Receipts, receipt)
	}

	if scenario.Sweep {
		// Parallelism 1 keeps the comparison order fixed for goldens.
		rec := reconcile.New(st, clock, logger, reconcile.WithParallelism(1))
		sweep, err := rec.Sweep(ctx)
		if err != nil {
			return nil, fmt.Errorf("reconcile sweep: %w", err)
		}
		result.Sweep = &sweep
	}

	statuses, err := ssot.New(st).AllModuleStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("project module statuses: %w", err)
	}
	result.Statuses = statuses

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}
