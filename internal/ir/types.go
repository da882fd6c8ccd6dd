package ir

// ModuleID identifies a submitting simulation module, e.g. "nu-mass-ladder".
type ModuleID string

// CanonicalID identifies a cross-module logical quantity, e.g. "BETTI_3".
// Multiple modules' values may resolve to the same CanonicalID; the
// reconciler relates them, nothing ever merges them.
type CanonicalID string

// Category classifies how a value was obtained.
type Category string

const (
	CategoryEstablished Category = "ESTABLISHED"
	CategoryDerived     Category = "DERIVED"
	CategoryGeometric   Category = "GEOMETRIC"
	CategoryPredicted   Category = "PREDICTED"
	CategoryCalibrated  Category = "CALIBRATED"
)

// ValidCategories defines allowed value categories.
var ValidCategories = map[Category]bool{
	CategoryEstablished: true,
	CategoryDerived:     true,
	CategoryGeometric:   true,
	CategoryPredicted:   true,
	CategoryCalibrated:  true,
}

// Value is one immutable version of a named scalar declared by a module.
//
// Values are never mutated in place. A re-derivation submits a new Value
// whose Supersedes field names the prior version id. VersionID is computed
// from the declaration content (see ValueVersionID); Seq is audit metadata
// stamped at commit time and is NOT part of identity, so resubmitting an
// identical declaration yields the same VersionID.
type Value struct {
	VersionID       string      `json:"version_id"`
	Name            string      `json:"name"`
	ModuleID        ModuleID    `json:"module_id"`
	FormulaID       string      `json:"formula_id,omitempty"`
	Number          Number      `json:"number"`
	Uncertainty     *Number     `json:"uncertainty,omitempty"`
	Category        Category    `json:"category"`
	ExperimentalRef string      `json:"experimental_ref,omitempty"`
	Canonical       CanonicalID `json:"canonical,omitempty"`
	// CanonicalTolerance is the tolerance this module declares as a consumer
	// of the canonical quantity. The reconciler enforces the tightest
	// tolerance declared across all contributors.
	CanonicalTolerance *Number `json:"canonical_tolerance,omitempty"`
	Supersedes         string  `json:"supersedes,omitempty"`
	Seq                int64   `json:"seq"`
}

// Formula is one immutable version of a registered derivation.
//
// A formula consumes zero or more named values and produces one or more.
// Derivations must form a DAG per module: a value can never depend, even
// transitively, on itself. Changing a derivation registers a new version
// with Supersedes set; the old version is never edited.
type Formula struct {
	VersionID  string   `json:"version_id"`
	ID         string   `json:"id"`
	ModuleID   ModuleID `json:"module_id"`
	Category   Category `json:"category"`
	Inputs     []string `json:"inputs"`
	Outputs    []string `json:"outputs"`
	StepCount  int      `json:"step_count"`
	Supersedes string   `json:"supersedes,omitempty"`
	Seq        int64    `json:"seq"`
}

// Comparator selects how a certificate compares actual against expected.
type Comparator string

const (
	// ComparatorTolerance passes when |actual - expected| <= tolerance.
	// Bounds are inclusive.
	ComparatorTolerance Comparator = "TOLERANCE"
	// ComparatorSigma passes when |actual - expected| / uncertainty <= sigma.
	// Requires the target value to carry an uncertainty.
	ComparatorSigma Comparator = "SIGMA"
)

// ValidComparators defines allowed certificate comparators.
var ValidComparators = map[Comparator]bool{
	ComparatorTolerance: true,
	ComparatorSigma:     true,
}

// CertificateSpec is a declared assertion over the value store.
//
// Only the spec is ever persisted. The PASS/FAIL verdict is a pure function
// of the spec and the store snapshot, recomputed on every read - there is no
// stored verdict field to drift out of agreement with the data.
type CertificateSpec struct {
	ID         string     `json:"id"`
	ModuleID   ModuleID   `json:"module_id"`
	Quantity   string     `json:"quantity"` // value name within the module
	Comparator Comparator `json:"comparator"`
	Expected   Number     `json:"expected"`
	Tolerance  *Number    `json:"tolerance,omitempty"`   // TOLERANCE comparator
	SigmaBound *Number    `json:"sigma_bound,omitempty"` // SIGMA comparator
	Seq        int64      `json:"seq"`
}

// Expectation is the tagged expected-range state of a self-validation check.
//
// This is a sealed interface - only NoExpectation and Interval implement it.
// The explicit NoExpectation variant keeps "not experimentally anchored"
// distinct from "missing data": the former is a recorded state, the latter
// fails closed.
type Expectation interface {
	expectation() // Sealed - only types in this package implement it.
}

// NoExpectation marks a check with no experimental anchor.
// The check is recorded as NO_EXPECTATION, which is neither a pass nor a
// fail and does not enter the aggregate AND.
type NoExpectation struct{}

func (NoExpectation) expectation() {}

// Interval is a declared confidence interval with an optional sigma bound.
// A check passes when the observed value lies in [Lower, Upper] (inclusive)
// and, if Sigma is set and the value carries an uncertainty, the normalized
// deviation from the interval midpoint is within Sigma.
type Interval struct {
	Lower Number  `json:"lower"`
	Upper Number  `json:"upper"`
	Sigma *Number `json:"sigma,omitempty"`
}

func (Interval) expectation() {}

// CheckSpec is a declared self-validation check.
// Like certificates, only the spec is persisted; results are computed.
type CheckSpec struct {
	Name     string      `json:"name"`
	ModuleID ModuleID    `json:"module_id"`
	Quantity string      `json:"quantity"`
	Expect   Expectation `json:"-"`
	Seq      int64       `json:"seq"`
}

// Reference is a literature or data citation attached to a bundle.
type Reference struct {
	Key      string `json:"key"`
	Citation string `json:"citation"`
}

// ClaimBundle is everything one module submits in a single transaction:
// parameters (values), formulas, certificates, self-validation checks, and
// references. A bundle commits or rejects as a whole.
type ClaimBundle struct {
	ModuleID     ModuleID          `json:"module_id"`
	Values       []Value           `json:"values"`
	Formulas     []Formula         `json:"formulas"`
	Certificates []CertificateSpec `json:"certificates"`
	Checks       []CheckSpec       `json:"checks"`
	References   []Reference       `json:"references"`
}

// FaultKind categorizes consistency faults.
type FaultKind string

const (
	// FaultValueDivergence: two modules' values for the same canonical
	// quantity differ by more than the tightest declared tolerance.
	FaultValueDivergence FaultKind = "VALUE_DIVERGENCE"
	// FaultVerdictContradiction: a certificate and a self-validation check
	// assert the same quantity but disagree on pass/fail.
	FaultVerdictContradiction FaultKind = "VERDICT_CONTRADICTION"
)

// Fault is a recorded, append-only consistency finding.
//
// Faults are never auto-resolved and never block unrelated modules.
// ID is content-addressed over (kind, canonical, subjects) - NOT over Seq -
// so re-running the reconciler over unchanged data is a no-op.
type Fault struct {
	ID        string      `json:"id"`
	Kind      FaultKind   `json:"kind"`
	Canonical CanonicalID `json:"canonical,omitempty"`
	ModuleA   ModuleID    `json:"module_a"`
	ModuleB   ModuleID    `json:"module_b,omitempty"`
	// SubjectA/SubjectB name the two disagreeing artifacts: value version
	// ids for divergence, certificate id and check name for contradiction.
	SubjectA string `json:"subject_a"`
	SubjectB string `json:"subject_b"`
	Detail   string `json:"detail"`
	Seq      int64  `json:"seq"`
}
