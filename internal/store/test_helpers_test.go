package store

import (
	"path/filepath"
	"testing"

	"github.com/veritaslab/claimreg/internal/ir"
)

// createTestStore creates a new file-backed store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testValue creates a value declaration with minimal required fields.
// VersionID is left empty - PutValue computes it.
func testValue(module, name, number string, seq int64) ir.Value {
	return ir.Value{
		Name:     name,
		ModuleID: ir.ModuleID(module),
		Number:   ir.MustNumber(number),
		Category: ir.CategoryDerived,
		Seq:      seq,
	}
}

// testCanonicalValue creates a value bound to a canonical quantity with a
// declared consumer tolerance.
func testCanonicalValue(module, name, number, canonical, tolerance string, seq int64) ir.Value {
	v := testValue(module, name, number, seq)
	v.Canonical = ir.CanonicalID(canonical)
	if tolerance != "" {
		tol := ir.MustNumber(tolerance)
		v.CanonicalTolerance = &tol
	}
	return v
}

// testDivergenceFault creates a divergence fault between two modules.
// ID is left empty - AppendFault computes it.
func testDivergenceFault(moduleA, moduleB string, seq int64) ir.Fault {
	return ir.Fault{
		Kind:      ir.FaultValueDivergence,
		Canonical: "BETTI_3",
		ModuleA:   ir.ModuleID(moduleA),
		ModuleB:   ir.ModuleID(moduleB),
		SubjectA:  "subject-" + moduleA,
		SubjectB:  "subject-" + moduleB,
		Detail:    "test divergence",
		Seq:       seq,
	}
}

// testFormula creates a formula declaration with minimal required fields.
func testFormula(module, id string, inputs, outputs []string, seq int64) ir.Formula {
	return ir.Formula{
		ID:        id,
		ModuleID:  ir.ModuleID(module),
		Category:  ir.CategoryDerived,
		Inputs:    inputs,
		Outputs:   outputs,
		StepCount: 1,
		Seq:       seq,
	}
}
