package bundle

import (
	"fmt"
	"strings"

	"github.com/veritaslab/claimreg/internal/graph"
	"github.com/veritaslab/claimreg/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrModuleMissing      = "E101" // module id missing
	ErrDuplicateName      = "E102" // duplicate declaration name
	ErrInvalidCategory    = "E103" // unknown value/formula category
	ErrFormulaNoOutputs   = "E104" // formula produces nothing
	ErrInvalidComparator  = "E110" // unknown certificate comparator
	ErrCertMissingBound   = "E111" // comparator without its bound
	ErrInvertedInterval  = "E112" // check interval lower > upper
	ErrEmptyReference    = "E113" // reference without citation
	ErrDerivationCycle   = "E120" // bundle formulas form a cycle
	ErrToleranceNegative = "E121" // negative tolerance or sigma bound
	ErrCanonicalNoValue  = "E122" // canonical_tolerance without canonical
)

// ValidationError reports one schema violation in a compiled bundle.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled bundle against schema rules.
// Returns every violation found; it does not fail fast.
//
// Cross-bundle rules (occupied slots, cycles against already-registered
// formulas) belong to the registry; this validation is purely local to
// the bundle.
func Validate(b *ir.ClaimBundle) []ValidationError {
	var errs []ValidationError
	report := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   field,
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if strings.TrimSpace(string(b.ModuleID)) == "" {
		report("module", ErrModuleMissing, "module id is required")
	}

	valueNames := make(map[string]bool, len(b.Values))
	for i, v := range b.Values {
		field := fmt.Sprintf("value[%d]", i)
		if valueNames[v.Name] {
			report(field, ErrDuplicateName, "duplicate value name %q", v.Name)
		}
		valueNames[v.Name] = true
		if !ir.ValidCategories[v.Category] {
			report(field+".category", ErrInvalidCategory, "unknown category %q", v.Category)
		}
		if v.CanonicalTolerance != nil && v.Canonical == "" {
			report(field, ErrCanonicalNoValue,
				"value %q declares canonical_tolerance without a canonical id", v.Name)
		}
		if v.CanonicalTolerance != nil && v.CanonicalTolerance.Float() < 0 {
			report(field, ErrToleranceNegative, "value %q has negative canonical_tolerance", v.Name)
		}
	}

	formulaIDs := make(map[string]bool, len(b.Formulas))
	for i, f := range b.Formulas {
		field := fmt.Sprintf("formula[%d]", i)
		if formulaIDs[f.ID] {
			report(field, ErrDuplicateName, "duplicate formula id %q", f.ID)
		}
		formulaIDs[f.ID] = true
		if !ir.ValidCategories[f.Category] {
			report(field+".category", ErrInvalidCategory, "unknown category %q", f.Category)
		}
		if len(f.Outputs) == 0 {
			report(field+".outputs", ErrFormulaNoOutputs, "formula %q produces no values", f.ID)
		}
	}

	certIDs := make(map[string]bool, len(b.Certificates))
	for i, c := range b.Certificates {
		field := fmt.Sprintf("certificate[%d]", i)
		if certIDs[c.ID] {
			report(field, ErrDuplicateName, "duplicate certificate id %q", c.ID)
		}
		certIDs[c.ID] = true
		if !ir.ValidComparators[c.Comparator] {
			report(field+".comparator", ErrInvalidComparator, "unknown comparator %q", c.Comparator)
		}
		if c.Comparator == ir.ComparatorTolerance {
			if c.Tolerance == nil {
				report(field, ErrCertMissingBound, "TOLERANCE certificate %q declares no tolerance", c.ID)
			} else if c.Tolerance.Float() < 0 {
				report(field, ErrToleranceNegative, "certificate %q has negative tolerance", c.ID)
			}
		}
		if c.Comparator == ir.ComparatorSigma {
			if c.SigmaBound == nil {
				report(field, ErrCertMissingBound, "SIGMA certificate %q declares no sigma bound", c.ID)
			} else if c.SigmaBound.Float() < 0 {
				report(field, ErrToleranceNegative, "certificate %q has negative sigma bound", c.ID)
			}
		}
	}

	checkNames := make(map[string]bool, len(b.Checks))
	for i, c := range b.Checks {
		field := fmt.Sprintf("check[%d]", i)
		if checkNames[c.Name] {
			report(field, ErrDuplicateName, "duplicate check name %q", c.Name)
		}
		checkNames[c.Name] = true
		if interval, ok := c.Expect.(ir.Interval); ok {
			if interval.Lower.Float() > interval.Upper.Float() {
				report(field+".expect", ErrInvertedInterval,
					"check %q interval [%s, %s] is inverted", c.Name, interval.Lower, interval.Upper)
			}
		}
	}

	refKeys := make(map[string]bool, len(b.References))
	for i, ref := range b.References {
		field := fmt.Sprintf("reference[%d]", i)
		if refKeys[ref.Key] {
			report(field, ErrDuplicateName, "duplicate reference key %q", ref.Key)
		}
		refKeys[ref.Key] = true
		if strings.TrimSpace(ref.Citation) == "" {
			report(field, ErrEmptyReference, "reference %q has an empty citation", ref.Key)
		}
	}

	errs = append(errs, checkLocalCycles(b)...)
	return errs
}

// checkLocalCycles runs the derivation cycle analysis over the bundle's
// own formulas. The registry re-checks against the module's registered
// heads; catching a self-contained cycle here gives the author the error
// before anything touches the store.
func checkLocalCycles(b *ir.ClaimBundle) []ValidationError {
	g := graph.New(b.ModuleID)
	for _, f := range b.Formulas {
		if len(f.Outputs) == 0 {
			continue // reported as E104 already
		}
		err := g.Add(f)
		if err == nil {
			continue
		}
		if graph.IsCyclicDependency(err) {
			return []ValidationError{{
				Field:   "formula",
				Code:    ErrDerivationCycle,
				Message: err.Error(),
			}}
		}
		// Duplicate producers are reported via the id pass; a second
		// formula producing the same value still deserves its own code.
		return []ValidationError{{
			Field:   "formula",
			Code:    ErrDuplicateName,
			Message: err.Error(),
		}}
	}
	return nil
}
