package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/veritaslab/claimreg/internal/ir"
)

// marshalNames serializes a value-name list to canonical JSON TEXT.
// Canonical form keeps formula rows byte-stable for replay verification.
func marshalNames(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	data, err := ir.MarshalCanonical(names)
	if err != nil {
		return "", fmt.Errorf("marshal names: %w", err)
	}
	return string(data), nil
}

// unmarshalNames parses a JSON TEXT name list.
func unmarshalNames(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal names: %w", err)
	}
	return names, nil
}

// numberOrNull converts an optional Number to a nullable TEXT column value.
func numberOrNull(n *ir.Number) any {
	if n == nil {
		return nil
	}
	return n.String()
}

// scanNumber parses a NOT NULL number column.
func scanNumber(text string) (ir.Number, error) {
	return ir.ParseNumber(text)
}

// scanOptionalNumber parses a nullable number column.
func scanOptionalNumber(text sql.NullString) (*ir.Number, error) {
	if !text.Valid {
		return nil, nil
	}
	n, err := ir.ParseNumber(text.String)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// expectationCols is the column form of an ir.Expectation.
type expectationCols struct {
	lower          any
	upper          any
	sigma          any
	hasExpectation int
}

// expectationColumns flattens the tagged Expectation into nullable columns.
// has_expectation distinguishes NoExpectation (0) from Interval (1) so the
// two states can never be conflated on read.
func expectationColumns(e ir.Expectation) (expectationCols, error) {
	switch exp := e.(type) {
	case nil:
		return expectationCols{}, fmt.Errorf("check expectation must be declared (use NoExpectation explicitly)")
	case ir.NoExpectation:
		return expectationCols{hasExpectation: 0}, nil
	case ir.Interval:
		if exp.Lower.IsZero() || exp.Upper.IsZero() {
			return expectationCols{}, fmt.Errorf("interval expectation requires both bounds")
		}
		cols := expectationCols{
			lower:          exp.Lower.String(),
			upper:          exp.Upper.String(),
			hasExpectation: 1,
		}
		if exp.Sigma != nil {
			cols.sigma = exp.Sigma.String()
		}
		return cols, nil
	default:
		return expectationCols{}, fmt.Errorf("unsupported expectation type: %T", e)
	}
}

// expectationFromColumns is the inverse of expectationColumns.
func expectationFromColumns(lower, upper, sigma sql.NullString, hasExpectation int) (ir.Expectation, error) {
	if hasExpectation == 0 {
		return ir.NoExpectation{}, nil
	}
	if !lower.Valid || !upper.Valid {
		return nil, fmt.Errorf("interval expectation row missing bounds")
	}
	lo, err := ir.ParseNumber(lower.String)
	if err != nil {
		return nil, fmt.Errorf("interval lower: %w", err)
	}
	hi, err := ir.ParseNumber(upper.String)
	if err != nil {
		return nil, fmt.Errorf("interval upper: %w", err)
	}
	interval := ir.Interval{Lower: lo, Upper: hi}
	if sigma.Valid {
		s, err := ir.ParseNumber(sigma.String)
		if err != nil {
			return nil, fmt.Errorf("interval sigma: %w", err)
		}
		interval.Sigma = &s
	}
	return interval, nil
}

// certSpecsEqual compares declared certificate content (ignores seq).
func certSpecsEqual(a, b ir.CertificateSpec) bool {
	return a.Quantity == b.Quantity &&
		a.Comparator == b.Comparator &&
		a.Expected.String() == b.Expected.String() &&
		optNumEqual(a.Tolerance, b.Tolerance) &&
		optNumEqual(a.SigmaBound, b.SigmaBound)
}

// checkSpecsEqual compares declared check content (ignores seq).
func checkSpecsEqual(a, b ir.CheckSpec) bool {
	if a.Quantity != b.Quantity {
		return false
	}
	return expectationsEqual(a.Expect, b.Expect)
}

func expectationsEqual(a, b ir.Expectation) bool {
	switch ea := a.(type) {
	case ir.NoExpectation:
		_, ok := b.(ir.NoExpectation)
		return ok
	case ir.Interval:
		eb, ok := b.(ir.Interval)
		if !ok {
			return false
		}
		return ea.Lower.String() == eb.Lower.String() &&
			ea.Upper.String() == eb.Upper.String() &&
			optNumEqual(ea.Sigma, eb.Sigma)
	default:
		return false
	}
}

func optNumEqual(a, b *ir.Number) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}
