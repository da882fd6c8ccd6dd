// Package reconcile sweeps the claim log for cross-module disagreements.
//
// The reconciler relates claims, it never merges them: a sweep appends
// fault records and changes nothing else. Faults are content-addressed,
// so sweeping unchanged data twice appends nothing - "exactly one fault
// per disagreement" holds across repeated sweeps.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/veritaslab/claimreg/internal/cert"
	"github.com/veritaslab/claimreg/internal/clock"
	"github.com/veritaslab/claimreg/internal/ir"
	"github.com/veritaslab/claimreg/internal/selfval"
	"github.com/veritaslab/claimreg/internal/store"
)

// defaultParallelism bounds concurrent comparison tasks per sweep.
const defaultParallelism = 4

// Reconciler runs consistency sweeps over a store.
type Reconciler struct {
	store       *store.Store
	clock       clock.Clock
	log         *slog.Logger
	parallelism int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithParallelism bounds the number of concurrent comparison tasks.
func WithParallelism(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// New creates a reconciler over the given store and clock.
func New(s *store.Store, cl clock.Clock, log *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       s,
		clock:       cl,
		log:         log,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result summarizes one sweep.
type Result struct {
	CanonicalsChecked int        `json:"canonicals_checked"`
	ModulesChecked    int        `json:"modules_checked"`
	Faults            []ir.Fault `json:"faults"`
	// NewFaults counts faults this sweep appended; the rest were already
	// on record from earlier sweeps.
	NewFaults int `json:"new_faults"`
}

// Sweep compares every canonical quantity's contributors pairwise and every
// module's certificate verdicts against its self-validation results, then
// appends one fault per fresh disagreement. Honors ctx cancellation between
// tasks.
func (r *Reconciler) Sweep(ctx context.Context) (Result, error) {
	canonicals, err := r.store.ListCanonicalIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sweep: %w", err)
	}
	modules, err := r.store.ModuleIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("sweep: %w", err)
	}

	var (
		mu     sync.Mutex
		faults []ir.Fault
	)
	collect := func(found []ir.Fault) {
		mu.Lock()
		faults = append(faults, found...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for _, canonical := range canonicals {
		g.Go(func() error {
			found, err := r.divergences(gctx, canonical)
			if err != nil {
				return err
			}
			collect(found)
			return nil
		})
	}
	for _, module := range modules {
		g.Go(func() error {
			found, err := r.contradictions(gctx, module)
			if err != nil {
				return err
			}
			collect(found)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("sweep: %w", err)
	}

	// Deterministic append order regardless of task scheduling.
	sortFaults(faults)

	result := Result{
		CanonicalsChecked: len(canonicals),
		ModulesChecked:    len(modules),
		Faults:            faults,
	}
	for i := range faults {
		faults[i].Seq = r.clock.Next()
		inserted, err := r.store.AppendFault(ctx, faults[i])
		if err != nil {
			return Result{}, fmt.Errorf("sweep: %w", err)
		}
		if inserted {
			result.NewFaults++
			r.log.Warn("consistency fault",
				"kind", faults[i].Kind,
				"canonical", faults[i].Canonical,
				"module_a", faults[i].ModuleA,
				"module_b", faults[i].ModuleB,
				"detail", faults[i].Detail)
		}
	}

	r.log.Info("sweep complete",
		"canonicals", result.CanonicalsChecked,
		"modules", result.ModulesChecked,
		"faults", len(result.Faults),
		"new", result.NewFaults)
	return result, nil
}

// divergences compares all head values contributed to one canonical
// quantity pairwise against the tightest tolerance any contributor
// declares. No declared tolerance means exact agreement is required.
func (r *Reconciler) divergences(ctx context.Context, canonical ir.CanonicalID) ([]ir.Fault, error) {
	values, err := r.store.ResolveCanonical(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, nil
	}

	sort.Slice(values, func(i, j int) bool {
		if values[i].ModuleID != values[j].ModuleID {
			return values[i].ModuleID < values[j].ModuleID
		}
		return values[i].VersionID < values[j].VersionID
	})

	tolerance := 0.0
	declared := false
	for _, v := range values {
		if v.CanonicalTolerance == nil {
			continue
		}
		t := v.CanonicalTolerance.Float()
		if !declared || t < tolerance {
			tolerance = t
			declared = true
		}
	}

	var faults []ir.Fault
	for i := 0; i < len(values); i++ {
		for j := i + 1; j < len(values); j++ {
			a, b := values[i], values[j]
			if a.ModuleID == b.ModuleID {
				continue
			}
			gap := math.Abs(a.Number.Float() - b.Number.Float())
			if gap <= tolerance {
				continue
			}
			faults = append(faults, ir.Fault{
				Kind:      ir.FaultValueDivergence,
				Canonical: canonical,
				ModuleA:   a.ModuleID,
				ModuleB:   b.ModuleID,
				SubjectA:  a.VersionID,
				SubjectB:  b.VersionID,
				Detail: fmt.Sprintf("%s: %s vs %s, gap %s exceeds tolerance %s",
					canonical, a.Number, b.Number,
					strconv.FormatFloat(gap, 'g', -1, 64),
					strconv.FormatFloat(tolerance, 'g', -1, 64)),
			})
		}
	}
	return faults, nil
}

// contradictions finds quantities within one module where a certificate
// and a self-validation check disagree on pass/fail. NO_EXPECTATION
// results assert nothing and cannot contradict.
func (r *Reconciler) contradictions(ctx context.Context, moduleID ir.ModuleID) ([]ir.Fault, error) {
	values, err := r.store.LatestModuleValues(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	certs, err := r.store.ReadModuleCertificates(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	checks, err := r.store.ReadModuleChecks(ctx, moduleID)
	if err != nil {
		return nil, err
	}

	snap := cert.SnapshotOf(values)
	verdicts := cert.EvaluateAll(certs, snap)
	report := selfval.Run(moduleID, checks, snap)

	checkByQuantity := make(map[string]selfval.CheckResult)
	for _, res := range report.Results {
		if res.Status == selfval.CheckNoExpectation {
			continue
		}
		checkByQuantity[res.Quantity] = res
	}

	var faults []ir.Fault
	for _, verdict := range verdicts {
		res, ok := checkByQuantity[verdict.Quantity]
		if !ok {
			continue
		}
		certPassed := verdict.Passed()
		checkPassed := res.Status == selfval.CheckPass
		if certPassed == checkPassed {
			continue
		}
		faults = append(faults, ir.Fault{
			Kind:     ir.FaultVerdictContradiction,
			ModuleA:  moduleID,
			SubjectA: verdict.CertificateID,
			SubjectB: res.Name,
			Detail: fmt.Sprintf("quantity %q: certificate %s is %s, check %s is %s",
				verdict.Quantity, verdict.CertificateID, verdict.Status,
				res.Name, res.Status),
		})
	}
	return faults, nil
}

func sortFaults(faults []ir.Fault) {
	sort.Slice(faults, func(i, j int) bool {
		a, b := faults[i], faults[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Canonical != b.Canonical {
			return a.Canonical < b.Canonical
		}
		if a.ModuleA != b.ModuleA {
			return a.ModuleA < b.ModuleA
		}
		if a.ModuleB != b.ModuleB {
			return a.ModuleB < b.ModuleB
		}
		if a.SubjectA != b.SubjectA {
			return a.SubjectA < b.SubjectA
		}
		return a.SubjectB < b.SubjectB
	})
}
