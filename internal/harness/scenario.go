package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/veritaslab/claimreg/internal/ir"
)

// Scenario defines one conformance scenario: an ordered sequence of bundle
// submissions, an optional reconciler sweep, and assertions over the
// resulting registry state.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Submissions are claim bundles submitted in order. Listing the same
	// bundle twice exercises idempotent resubmission.
	Submissions []BundleSpec `yaml:"submissions"`

	// Sweep runs one reconciliation pass after all submissions.
	Sweep bool `yaml:"sweep,omitempty"`

	// Assertions validate receipts, verdicts, faults, and module status.
	Assertions []Assertion `yaml:"assertions"`
}

// BundleSpec is the YAML shape of one module's claim bundle.
type BundleSpec struct {
	Module       string     `yaml:"module"`
	Values       []ValueSpec `yaml:"values,omitempty"`
	Formulas     []FormulaSpec `yaml:"formulas,omitempty"`
	Certificates []CertSpec  `yaml:"certificates,omitempty"`
	Checks       []CheckSpec `yaml:"checks,omitempty"`
	References   []RefSpec   `yaml:"references,omitempty"`
}

// ValueSpec declares one value version.
type ValueSpec struct {
	Name               string     `yaml:"name"`
	Number             ir.Number  `yaml:"number"`
	Uncertainty        *ir.Number `yaml:"uncertainty,omitempty"`
	Category           string     `yaml:"category"`
	FormulaID          string     `yaml:"formula,omitempty"`
	ExperimentalRef    string     `yaml:"experimental_ref,omitempty"`
	Canonical          string     `yaml:"canonical,omitempty"`
	CanonicalTolerance *ir.Number `yaml:"canonical_tolerance,omitempty"`
	Supersedes         string     `yaml:"supersedes,omitempty"`
}

// FormulaSpec declares one derivation.
type FormulaSpec struct {
	ID        string   `yaml:"id"`
	Category  string   `yaml:"category"`
	Inputs    []string `yaml:"inputs,omitempty"`
	Outputs   []string `yaml:"outputs"`
	StepCount int      `yaml:"steps"`
}

// CertSpec declares one certificate.
type CertSpec struct {
	ID         string     `yaml:"id"`
	Quantity   string     `yaml:"quantity"`
	Comparator string     `yaml:"comparator"`
	Expected   ir.Number  `yaml:"expected"`
	Tolerance  *ir.Number `yaml:"tolerance,omitempty"`
	SigmaBound *ir.Number `yaml:"sigma_bound,omitempty"`
}

// CheckSpec declares one self-validation check. Either None is true or
// Lower/Upper bound an interval; the two are mutually exclusive.
type CheckSpec struct {
	Name     string     `yaml:"name"`
	Quantity string     `yaml:"quantity"`
	None     bool       `yaml:"none,omitempty"`
	Lower    *ir.Number `yaml:"lower,omitempty"`
	Upper    *ir.Number `yaml:"upper,omitempty"`
	Sigma    *ir.Number `yaml:"sigma,omitempty"`
}

// RefSpec declares one citation.
type RefSpec struct {
	Key      string `yaml:"key"`
	Citation string `yaml:"citation"`
}

// Assertion validates one aspect of the final registry state.
type Assertion struct {
	// Type selects the assertion:
	//   receipt      - submission outcome (committed vs duplicate)
	//   certificate  - a certificate's verdict status
	//   check        - a self-validation check's status
	//   fault_count  - total faults on record
	//   fault        - a fault with the given kind/canonical/modules exists
	//   module_status - a module's complete/clean projection
	//   value_head   - a module value's head number
	Type string `yaml:"type"`

	Module      string   `yaml:"module,omitempty"`
	Duplicate   bool     `yaml:"duplicate,omitempty"`
	Certificate string   `yaml:"certificate,omitempty"`
	Check       string   `yaml:"check,omitempty"`
	Status      string   `yaml:"status,omitempty"`
	Count       int      `yaml:"count,omitempty"`
	Kind        string   `yaml:"kind,omitempty"`
	Canonical   string   `yaml:"canonical,omitempty"`
	Modules     []string `yaml:"modules,omitempty"`
	Complete    *bool    `yaml:"complete,omitempty"`
	Clean       *bool    `yaml:"clean,omitempty"`
	Value       string   `yaml:"value,omitempty"`
	Number      string   `yaml:"number,omitempty"`
}

// Assertion type constants.
const (
	AssertReceipt      = "receipt"
	AssertCertificate  = "certificate"
	AssertCheck        = "check"
	AssertFaultCount   = "fault_count"
	AssertFault        = "fault"
	AssertModuleStatus = "module_status"
	AssertValueHead    = "value_head"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so a typo like "assertion:" fails loudly instead of silently
// skipping checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Submissions) == 0 {
		return fmt.Errorf("submissions list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, sub := range s.Submissions {
		if sub.Module == "" {
			return fmt.Errorf("submissions[%d]: module is required", i)
		}
		for j, c := range sub.Checks {
			if c.None && (c.Lower != nil || c.Upper != nil) {
				return fmt.Errorf("submissions[%d].checks[%d]: none and interval bounds are mutually exclusive", i, j)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertReceipt:
		if a.Module == "" {
			return fmt.Errorf("assertions[%d]: module is required for receipt", index)
		}
	case AssertCertificate:
		if a.Module == "" || a.Certificate == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: module, certificate, and status are required for certificate", index)
		}
	case AssertCheck:
		if a.Module == "" || a.Check == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: module, check, and status are required for check", index)
		}
	case AssertFaultCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fault_count", index)
		}
	case AssertFault:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for fault", index)
		}
	case AssertModuleStatus:
		if a.Module == "" {
			return fmt.Errorf("assertions[%d]: module is required for module_status", index)
		}
		if a.Complete == nil && a.Clean == nil {
			return fmt.Errorf("assertions[%d]: complete or clean is required for module_status", index)
		}
	case AssertValueHead:
		if a.Module == "" || a.Value == "" || a.Number == "" {
			return fmt.Errorf("assertions[%d]: module, value, and number are required for value_head", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// toBundle converts the YAML spec into the registry IR.
func (b BundleSpec) toBundle() ir.ClaimBundle {
	moduleID := ir.ModuleID(b.Module)
	bundle := ir.ClaimBundle{ModuleID: moduleID}

	for _, v := range b.Values {
		bundle.Values = append(bundle.Values, ir.Value{
			Name:               v.Name,
			ModuleID:           moduleID,
			FormulaID:          v.FormulaID,
			Number:             v.Number,
			Uncertainty:        v.Uncertainty,
			Category:           ir.Category(v.Category),
			ExperimentalRef:    v.ExperimentalRef,
			Canonical:          ir.CanonicalID(v.Canonical),
			CanonicalTolerance: v.CanonicalTolerance,
			Supersedes:         v.Supersedes,
		})
	}
	for _, f := range b.Formulas {
		bundle.Formulas = append(bundle.Formulas, ir.Formula{
			ID:        f.ID,
			ModuleID:  moduleID,
			Category:  ir.Category(f.Category),
			Inputs:    f.Inputs,
			Outputs:   f.Outputs,
			StepCount: f.StepCount,
		})
	}
	for _, c := range b.Certificates {
		bundle.Certificates = append(bundle.Certificates, ir.CertificateSpec{
			ID:         c.ID,
			ModuleID:   moduleID,
			Quantity:   c.Quantity,
			Comparator: ir.Comparator(c.Comparator),
			Expected:   c.Expected,
			Tolerance:  c.Tolerance,
			SigmaBound: c.SigmaBound,
		})
	}
	for _, c := range b.Checks {
		var expect ir.Expectation
		switch {
		case c.None:
			expect = ir.NoExpectation{}
		case c.Lower != nil && c.Upper != nil:
			expect = ir.Interval{Lower: *c.Lower, Upper: *c.Upper, Sigma: c.Sigma}
		}
		bundle.Checks = append(bundle.Checks, ir.CheckSpec{
			Name:     c.Name,
			ModuleID: moduleID,
			Quantity: c.Quantity,
			Expect:   expect,
		})
	}
	for _, r := range b.References {
		bundle.References = append(bundle.References, ir.Reference{Key: r.Key, Citation: r.Citation})
	}
	return bundle
}
