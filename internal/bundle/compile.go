// Package bundle compiles CUE claim declarations into the registry IR.
//
// A bundle file declares one module's claims:
//
//	module: "k7-topology"
//
//	value: b3: {
//		number:   "24"
//		category: "GEOMETRIC"
//		canonical: "BETTI_3"
//		canonical_tolerance: "1e-9"
//	}
//
//	formula: "f-b3": {
//		category: "GEOMETRIC"
//		outputs: ["b3"]
//		steps: 2
//	}
//
//	certificate: "cert-b3": {
//		quantity:   "b3"
//		comparator: "TOLERANCE"
//		expected:   "24"
//		tolerance:  "1e-9"
//	}
//
//	check: "check-b3": {
//		quantity: "b3"
//		expect: {lower: "23", upper: "25"}
//	}
//
//	reference: joyce2000: "Joyce, Compact Manifolds with Special Holonomy"
//
// Numeric quantities are declared as strings (or CUE integers). CUE float
// literals are rejected: the declared decimal text is part of a value's
// identity, and a binary float has no canonical text.
package bundle

import (
	"fmt"
	"sort"
	"strconv"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/veritaslab/claimreg/internal/ir"
)

// CompileError reports a malformed declaration with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile parses a CUE value holding one module's claim declarations.
func Compile(v cue.Value) (*ir.ClaimBundle, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	bundle := &ir.ClaimBundle{}

	moduleVal := v.LookupPath(cue.ParsePath("module"))
	if !moduleVal.Exists() {
		return nil, &CompileError{Field: "module", Message: "module is required", Pos: v.Pos()}
	}
	module, err := moduleVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	bundle.ModuleID = ir.ModuleID(module)

	if bundle.Values, err = parseValues(v, bundle.ModuleID); err != nil {
		return nil, err
	}
	if bundle.Formulas, err = parseFormulas(v, bundle.ModuleID); err != nil {
		return nil, err
	}
	if bundle.Certificates, err = parseCertificates(v, bundle.ModuleID); err != nil {
		return nil, err
	}
	if bundle.Checks, err = parseChecks(v, bundle.ModuleID); err != nil {
		return nil, err
	}
	if bundle.References, err = parseReferences(v); err != nil {
		return nil, err
	}
	return bundle, nil
}

func parseValues(v cue.Value, moduleID ir.ModuleID) ([]ir.Value, error) {
	valuesVal := v.LookupPath(cue.ParsePath("value"))
	if !valuesVal.Exists() {
		return nil, nil
	}
	iter, err := valuesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var values []ir.Value
	for iter.Next() {
		name := iter.Selector().Unquoted()
		val, err := parseValue(iter.Value(), name, moduleID)
		if err != nil {
			return nil, err
		}
		values = append(values, val)
	}
	// Declaration order in the file is presentation; identity order is by
	// name so the bundle hash does not depend on file layout.
	sort.Slice(values, func(i, j int) bool { return values[i].Name < values[j].Name })
	return values, nil
}

func parseValue(v cue.Value, name string, moduleID ir.ModuleID) (ir.Value, error) {
	field := "value." + name
	value := ir.Value{Name: name, ModuleID: moduleID}

	number, err := requiredNumber(v, "number", field)
	if err != nil {
		return ir.Value{}, err
	}
	value.Number = number

	category, err := requiredString(v, "category", field)
	if err != nil {
		return ir.Value{}, err
	}
	value.Category = ir.Category(category)

	if value.Uncertainty, err = optionalNumber(v, "uncertainty", field); err != nil {
		return ir.Value{}, err
	}
	if value.CanonicalTolerance, err = optionalNumber(v, "canonical_tolerance", field); err != nil {
		return ir.Value{}, err
	}
	if value.FormulaID, err = optionalString(v, "formula"); err != nil {
		return ir.Value{}, err
	}
	canonical, err := optionalString(v, "canonical")
	if err != nil {
		return ir.Value{}, err
	}
	value.Canonical = ir.CanonicalID(canonical)
	if value.ExperimentalRef, err = optionalString(v, "experimental_ref"); err != nil {
		return ir.Value{}, err
	}
	if value.Supersedes, err = optionalString(v, "supersedes"); err != nil {
		return ir.Value{}, err
	}
	return value, nil
}

func parseFormulas(v cue.Value, moduleID ir.ModuleID) ([]ir.Formula, error) {
	formulasVal := v.LookupPath(cue.ParsePath("formula"))
	if !formulasVal.Exists() {
		return nil, nil
	}
	iter, err := formulasVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var formulas []ir.Formula
	for iter.Next() {
		id := iter.Selector().Unquoted()
		fv := iter.Value()
		field := "formula." + id
		formula := ir.Formula{ID: id, ModuleID: moduleID}

		category, err := requiredString(fv, "category", field)
		if err != nil {
			return nil, err
		}
		formula.Category = ir.Category(category)

		if formula.Inputs, err = stringList(fv, "inputs"); err != nil {
			return nil, err
		}
		if formula.Outputs, err = stringList(fv, "outputs"); err != nil {
			return nil, err
		}
		stepsVal := fv.LookupPath(cue.ParsePath("steps"))
		if stepsVal.Exists() {
			steps, err := stepsVal.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			formula.StepCount = int(steps)
		}
		if formula.Supersedes, err = optionalString(fv, "supersedes"); err != nil {
			return nil, err
		}
		formulas = append(formulas, formula)
	}
	sort.Slice(formulas, func(i, j int) bool { return formulas[i].ID < formulas[j].ID })
	return formulas, nil
}

func parseCertificates(v cue.Value, moduleID ir.ModuleID) ([]ir.CertificateSpec, error) {
	certsVal := v.LookupPath(cue.ParsePath("certificate"))
	if !certsVal.Exists() {
		return nil, nil
	}
	iter, err := certsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var certs []ir.CertificateSpec
	for iter.Next() {
		id := iter.Selector().Unquoted()
		cv := iter.Value()
		field := "certificate." + id
		spec := ir.CertificateSpec{ID: id, ModuleID: moduleID}

		if spec.Quantity, err = requiredString(cv, "quantity", field); err != nil {
			return nil, err
		}
		comparator, err := requiredString(cv, "comparator", field)
		if err != nil {
			return nil, err
		}
		spec.Comparator = ir.Comparator(comparator)

		if spec.Expected, err = requiredNumber(cv, "expected", field); err != nil {
			return nil, err
		}
		if spec.Tolerance, err = optionalNumber(cv, "tolerance", field); err != nil {
			return nil, err
		}
		if spec.SigmaBound, err = optionalNumber(cv, "sigma_bound", field); err != nil {
			return nil, err
		}
		certs = append(certs, spec)
	}
	sort.Slice(certs, func(i, j int) bool { return certs[i].ID < certs[j].ID })
	return certs, nil
}

func parseChecks(v cue.Value, moduleID ir.ModuleID) ([]ir.CheckSpec, error) {
	checksVal := v.LookupPath(cue.ParsePath("check"))
	if !checksVal.Exists() {
		return nil, nil
	}
	iter, err := checksVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var checks []ir.CheckSpec
	for iter.Next() {
		name := iter.Selector().Unquoted()
		cv := iter.Value()
		field := "check." + name
		spec := ir.CheckSpec{Name: name, ModuleID: moduleID}

		if spec.Quantity, err = requiredString(cv, "quantity", field); err != nil {
			return nil, err
		}
		if spec.Expect, err = parseExpectation(cv, field); err != nil {
			return nil, err
		}
		checks = append(checks, spec)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return checks, nil
}

// parseExpectation reads the expect field. "NONE" declares the explicit
// no-anchor state; a struct declares an interval. An absent expect field
// is an error - silence does not mean "no expectation".
func parseExpectation(v cue.Value, field string) (ir.Expectation, error) {
	expectVal := v.LookupPath(cue.ParsePath("expect"))
	if !expectVal.Exists() {
		return nil, &CompileError{
			Field:   field + ".expect",
			Message: `expect is required; use expect: "NONE" for an unanchored check`,
			Pos:     v.Pos(),
		}
	}

	if s, err := expectVal.String(); err == nil {
		if s == "NONE" {
			return ir.NoExpectation{}, nil
		}
		return nil, &CompileError{
			Field:   field + ".expect",
			Message: fmt.Sprintf("unknown expectation %q; use an interval or \"NONE\"", s),
			Pos:     expectVal.Pos(),
		}
	}

	var interval ir.Interval
	lower, err := requiredNumber(expectVal, "lower", field+".expect")
	if err != nil {
		return nil, err
	}
	interval.Lower = lower
	upper, err := requiredNumber(expectVal, "upper", field+".expect")
	if err != nil {
		return nil, err
	}
	interval.Upper = upper
	if interval.Sigma, err = optionalNumber(expectVal, "sigma", field+".expect"); err != nil {
		return nil, err
	}
	return interval, nil
}

func parseReferences(v cue.Value) ([]ir.Reference, error) {
	refsVal := v.LookupPath(cue.ParsePath("reference"))
	if !refsVal.Exists() {
		return nil, nil
	}
	iter, err := refsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var refs []ir.Reference
	for iter.Next() {
		citation, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		refs = append(refs, ir.Reference{Key: iter.Selector().Unquoted(), Citation: citation})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

// requiredNumber reads a numeric field declared as a string or a CUE
// integer. Float literals are rejected: quote the decimal text instead.
func requiredNumber(v cue.Value, path, field string) (ir.Number, error) {
	nv := v.LookupPath(cue.ParsePath(path))
	if !nv.Exists() {
		return ir.Number{}, &CompileError{
			Field:   field + "." + path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	return numberFrom(nv, field+"."+path)
}

func optionalNumber(v cue.Value, path, field string) (*ir.Number, error) {
	nv := v.LookupPath(cue.ParsePath(path))
	if !nv.Exists() {
		return nil, nil
	}
	n, err := numberFrom(nv, field+"."+path)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func numberFrom(v cue.Value, field string) (ir.Number, error) {
	if s, err := v.String(); err == nil {
		n, perr := ir.ParseNumber(s)
		if perr != nil {
			return ir.Number{}, &CompileError{Field: field, Message: perr.Error(), Pos: v.Pos()}
		}
		return n, nil
	}
	if i, err := v.Int64(); err == nil {
		n, perr := ir.ParseNumber(strconv.FormatInt(i, 10))
		if perr != nil {
			return ir.Number{}, &CompileError{Field: field, Message: perr.Error(), Pos: v.Pos()}
		}
		return n, nil
	}
	return ir.Number{}, &CompileError{
		Field:   field,
		Message: "float literals are not allowed; quote the decimal text",
		Pos:     v.Pos(),
	}
}

func requiredString(v cue.Value, path, field string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", &CompileError{
			Field:   field + "." + path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringList(v cue.Value, path string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil, nil
	}
	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatCUEError extracts position info from a CUE error chain.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
