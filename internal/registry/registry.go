// Package registry coordinates claim bundle submission.
//
// A bundle commits or rejects as a whole, inside one store transaction:
// seq stamping, derivation cycle analysis, every append, and the
// submission record either all land or none do. Certificate verdicts and
// self-validation results are evaluated against the committed snapshot
// and returned in the receipt - they are never persisted.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/veritaslab/claimreg/internal/cert"
	"github.com/veritaslab/claimreg/internal/clock"
	"github.com/veritaslab/claimreg/internal/graph"
	"github.com/veritaslab/claimreg/internal/ir"
	"github.com/veritaslab/claimreg/internal/selfval"
	"github.com/veritaslab/claimreg/internal/store"
)

// ErrInvalidBundle marks structural bundle rejections.
var ErrInvalidBundle = errors.New("invalid bundle")

// TokenGenerator issues submission tokens.
type TokenGenerator interface {
	NewToken() (string, error)
}

// Registry accepts claim bundles into the store.
type Registry struct {
	store  *store.Store
	clock  clock.Clock
	tokens TokenGenerator
	log    *slog.Logger
}

// New creates a registry over the given store.
func New(s *store.Store, cl clock.Clock, tokens TokenGenerator, log *slog.Logger) *Registry {
	return &Registry{store: s, clock: cl, tokens: tokens, log: log}
}

// Receipt reports the outcome of one accepted submission.
type Receipt struct {
	Token      string      `json:"token"`
	ModuleID   ir.ModuleID `json:"module_id"`
	BundleHash string      `json:"bundle_hash"`
	Seq        int64       `json:"seq,omitempty"`
	// Duplicate is set when the identical bundle was already committed.
	// Nothing is appended; verdicts are still evaluated fresh.
	Duplicate bool `json:"duplicate,omitempty"`
	// ValueVersions maps value name to committed version id.
	ValueVersions map[string]string `json:"value_versions,omitempty"`
	// FormulaVersions maps formula id to committed version id.
	FormulaVersions map[string]string `json:"formula_versions,omitempty"`
	Certificates    []cert.Verdict    `json:"certificates,omitempty"`
	SelfValidation  selfval.Report    `json:"self_validation"`
}

// Submit validates and commits a claim bundle.
//
// Resubmitting a bundle that already committed is an idempotent no-op:
// the receipt comes back with Duplicate set and no new log rows. A bundle
// that fails validation, would create a derivation cycle, or collides
// with an occupied declaration slot rejects wholesale.
func (r *Registry) Submit(ctx context.Context, bundle ir.ClaimBundle) (Receipt, error) {
	if err := validate(bundle); err != nil {
		return Receipt{}, err
	}

	bundleHash, err := ir.BundleHash(bundle)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit: %w", err)
	}

	committed, err := r.store.HasBundle(ctx, bundleHash)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit: %w", err)
	}
	if committed {
		r.log.Info("duplicate bundle, nothing to do",
			"module", bundle.ModuleID, "bundle", bundleHash[:12])
		return r.receipt(ctx, Receipt{
			ModuleID:   bundle.ModuleID,
			BundleHash: bundleHash,
			Duplicate:  true,
		})
	}

	if err := r.checkCycles(ctx, bundle); err != nil {
		return Receipt{}, err
	}

	token, err := r.tokens.NewToken()
	if err != nil {
		return Receipt{}, fmt.Errorf("submit: issue token: %w", err)
	}
	seq := r.clock.Next()

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit: %w", err)
	}
	defer tx.Rollback()

	valueVersions := make(map[string]string, len(bundle.Values))
	for _, v := range bundle.Values {
		v.Seq = seq
		id, _, err := tx.PutValue(ctx, v)
		if err != nil {
			return Receipt{}, err
		}
		valueVersions[v.Name] = id
	}
	formulaVersions := make(map[string]string, len(bundle.Formulas))
	for _, f := range bundle.Formulas {
		f.Seq = seq
		id, _, err := tx.PutFormula(ctx, f)
		if err != nil {
			return Receipt{}, err
		}
		formulaVersions[f.ID] = id
	}
	for _, c := range bundle.Certificates {
		c.Seq = seq
		if err := tx.PutCertificate(ctx, c); err != nil {
			return Receipt{}, err
		}
	}
	for _, c := range bundle.Checks {
		c.Seq = seq
		if err := tx.PutCheck(ctx, c); err != nil {
			return Receipt{}, err
		}
	}
	for _, ref := range bundle.References {
		if err := tx.PutReference(ctx, bundle.ModuleID, ref, seq); err != nil {
			return Receipt{}, err
		}
	}
	if err := tx.RecordSubmission(ctx, token, bundle.ModuleID, bundleHash, seq); err != nil {
		return Receipt{}, err
	}
	if err := tx.Commit(); err != nil {
		return Receipt{}, fmt.Errorf("submit: %w", err)
	}

	r.log.Info("bundle committed",
		"module", bundle.ModuleID,
		"token", token,
		"seq", seq,
		"values", len(bundle.Values),
		"formulas", len(bundle.Formulas))

	return r.receipt(ctx, Receipt{
		Token:           token,
		ModuleID:        bundle.ModuleID,
		BundleHash:      bundleHash,
		Seq:             seq,
		ValueVersions:   valueVersions,
		FormulaVersions: formulaVersions,
	})
}

// receipt evaluates certificates and self-validation against the committed
// head values and attaches the results.
func (r *Registry) receipt(ctx context.Context, receipt Receipt) (Receipt, error) {
	values, err := r.store.LatestModuleValues(ctx, receipt.ModuleID)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit: read back values: %w", err)
	}
	certs, err := r.store.ReadModuleCertificates(ctx, receipt.ModuleID)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit: read back certificates: %w", err)
	}
	checks, err := r.store.ReadModuleChecks(ctx, receipt.ModuleID)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit: read back checks: %w", err)
	}

	snap := cert.SnapshotOf(values)
	receipt.Certificates = cert.EvaluateAll(certs, snap)
	receipt.SelfValidation = selfval.Run(receipt.ModuleID, checks, snap)
	return receipt, nil
}

// checkCycles verifies the module's derivation graph stays a DAG once the
// bundle's formulas are applied over the currently registered heads.
func (r *Registry) checkCycles(ctx context.Context, bundle ir.ClaimBundle) error {
	existing, err := r.store.ReadModuleFormulas(ctx, bundle.ModuleID)
	if err != nil {
		return fmt.Errorf("submit: read formulas: %w", err)
	}

	heads := make(map[string]ir.Formula, len(existing)+len(bundle.Formulas))
	for _, f := range existing {
		heads[f.ID] = f
	}
	for _, f := range bundle.Formulas {
		current, registered := heads[f.ID]
		if !registered {
			heads[f.ID] = f
			continue
		}
		versionID, err := ir.FormulaVersionID(f)
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		switch {
		case versionID == current.VersionID:
			// Identical resubmission; head unchanged.
		case f.Supersedes == current.VersionID:
			heads[f.ID] = f
		default:
			// Slot conflict. Leave the head as-is; the transactional
			// PutFormula reports the DuplicateVersionError.
		}
	}

	prospective := make([]ir.Formula, 0, len(heads))
	for _, f := range heads {
		prospective = append(prospective, f)
	}
	sort.Slice(prospective, func(i, j int) bool { return prospective[i].ID < prospective[j].ID })

	if _, err := graph.NewFromFormulas(bundle.ModuleID, prospective); err != nil {
		return err
	}
	return nil
}

func validate(bundle ir.ClaimBundle) error {
	if bundle.ModuleID == "" {
		return fmt.Errorf("%w: missing module id", ErrInvalidBundle)
	}
	for _, v := range bundle.Values {
		if v.Name == "" {
			return fmt.Errorf("%w: value with empty name", ErrInvalidBundle)
		}
		if v.ModuleID != bundle.ModuleID {
			return fmt.Errorf("%w: value %q belongs to module %q", ErrInvalidBundle, v.Name, v.ModuleID)
		}
		if !ir.ValidCategories[v.Category] {
			return fmt.Errorf("%w: value %q has unknown category %q", ErrInvalidBundle, v.Name, v.Category)
		}
	}
	for _, f := range bundle.Formulas {
		if f.ID == "" {
			return fmt.Errorf("%w: formula with empty id", ErrInvalidBundle)
		}
		if f.ModuleID != bundle.ModuleID {
			return fmt.Errorf("%w: formula %q belongs to module %q", ErrInvalidBundle, f.ID, f.ModuleID)
		}
		if len(f.Outputs) == 0 {
			return fmt.Errorf("%w: formula %q produces no values", ErrInvalidBundle, f.ID)
		}
	}
	for _, c := range bundle.Certificates {
		if c.ID == "" || c.Quantity == "" {
			return fmt.Errorf("%w: certificate missing id or quantity", ErrInvalidBundle)
		}
		if c.ModuleID != bundle.ModuleID {
			return fmt.Errorf("%w: certificate %q belongs to module %q", ErrInvalidBundle, c.ID, c.ModuleID)
		}
		if !ir.ValidComparators[c.Comparator] {
			return fmt.Errorf("%w: certificate %q has unknown comparator %q", ErrInvalidBundle, c.ID, c.Comparator)
		}
		if c.Comparator == ir.ComparatorTolerance && c.Tolerance == nil {
			return fmt.Errorf("%w: certificate %q declares no tolerance", ErrInvalidBundle, c.ID)
		}
		if c.Comparator == ir.ComparatorSigma && c.SigmaBound == nil {
			return fmt.Errorf("%w: certificate %q declares no sigma bound", ErrInvalidBundle, c.ID)
		}
	}
	for _, c := range bundle.Checks {
		if c.Name == "" || c.Quantity == "" {
			return fmt.Errorf("%w: check missing name or quantity", ErrInvalidBundle)
		}
		if c.ModuleID != bundle.ModuleID {
			return fmt.Errorf("%w: check %q belongs to module %q", ErrInvalidBundle, c.Name, c.ModuleID)
		}
		switch expect := c.Expect.(type) {
		case ir.NoExpectation:
		case ir.Interval:
			if expect.Lower.Float() > expect.Upper.Float() {
				return fmt.Errorf("%w: check %q interval is inverted", ErrInvalidBundle, c.Name)
			}
		default:
			return fmt.Errorf("%w: check %q has no expectation; use an explicit NO_EXPECTATION", ErrInvalidBundle, c.Name)
		}
	}
	for _, ref := range bundle.References {
		if ref.Key == "" || ref.Citation == "" {
			return fmt.Errorf("%w: reference missing key or citation", ErrInvalidBundle)
		}
	}
	return nil
}
