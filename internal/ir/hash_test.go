package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func betti3Value() Value {
	return Value{
		Name:      "b3",
		ModuleID:  "m1-betti-ladder",
		Number:    MustNumber("24"),
		Category:  CategoryGeometric,
		Canonical: "BETTI_3",
	}
}

func TestValueVersionIDDeterminism(t *testing.T) {
	v := betti3Value()

	id1, err := ValueVersionID(v)
	require.NoError(t, err)
	id2, err := ValueVersionID(v)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "ValueVersionID must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestValueVersionIDExcludesSeq(t *testing.T) {
	a := betti3Value()
	b := betti3Value()
	a.Seq = 1
	b.Seq = 99

	assert.Equal(t, MustValueVersionID(a), MustValueVersionID(b),
		"seq is audit metadata, not identity")
}

func TestValueVersionIDChangesWithContent(t *testing.T) {
	base := betti3Value()

	differentNumber := base
	differentNumber.Number = MustNumber("24.0")

	differentModule := base
	differentModule.ModuleID = "m2-flux-quanta"

	unc := MustNumber("0.5")
	withUncertainty := base
	withUncertainty.Uncertainty = &unc

	superseding := base
	superseding.Supersedes = MustValueVersionID(base)

	baseID := MustValueVersionID(base)
	assert.NotEqual(t, baseID, MustValueVersionID(differentNumber),
		"different declared text is a different version")
	assert.NotEqual(t, baseID, MustValueVersionID(differentModule))
	assert.NotEqual(t, baseID, MustValueVersionID(withUncertainty))
	assert.NotEqual(t, baseID, MustValueVersionID(superseding),
		"a correction is a new version, not a rewrite")
}

func TestFormulaVersionIDDeterminism(t *testing.T) {
	f := Formula{
		ID:        "f-b3-to-generations",
		ModuleID:  "m1-betti-ladder",
		Category:  CategoryDerived,
		Inputs:    []string{"b3"},
		Outputs:   []string{"n_generations"},
		StepCount: 3,
	}

	id1, err := FormulaVersionID(f)
	require.NoError(t, err)
	id2 := MustFormulaVersionID(f)
	assert.Equal(t, id1, id2)

	f.Inputs = []string{"b3", "chi"}
	assert.NotEqual(t, id1, MustFormulaVersionID(f),
		"different dependency edges are a different formula version")
}

func TestBundleHashIdempotent(t *testing.T) {
	b := ClaimBundle{
		ModuleID: "m1-betti-ladder",
		Values:   []Value{betti3Value()},
		Formulas: []Formula{{
			ID:       "f-b3",
			ModuleID: "m1-betti-ladder",
			Category: CategoryDerived,
			Inputs:   []string{},
			Outputs:  []string{"b3"},
		}},
	}

	h1, err := BundleHash(b)
	require.NoError(t, err)
	h2, err := BundleHash(b)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "identical bundle hashes identically")
}

func TestFaultIDExcludesSeq(t *testing.T) {
	f := Fault{
		Kind:      FaultValueDivergence,
		Canonical: "BETTI_3",
		ModuleA:   "m1-betti-ladder",
		ModuleB:   "m3-torsion",
		SubjectA:  "aaaa",
		SubjectB:  "bbbb",
		Seq:       10,
	}
	id1, err := FaultID(f)
	require.NoError(t, err)

	f.Seq = 20
	id2, err := FaultID(f)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "re-sweeping unchanged data must recompute the same fault id")
}
