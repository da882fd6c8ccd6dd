package cert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritaslab/claimreg/internal/ir"
)

func numPtr(s string) *ir.Number {
	n := ir.MustNumber(s)
	return &n
}

func snapshotWith(name, number string, uncertainty *ir.Number) Snapshot {
	return SnapshotOf([]ir.Value{{
		Name:        name,
		ModuleID:    "m1",
		Number:      ir.MustNumber(number),
		Uncertainty: uncertainty,
		Category:    ir.CategoryDerived,
	}})
}

func toleranceCert(quantity, expected, tolerance string) ir.CertificateSpec {
	return ir.CertificateSpec{
		ID:         "cert-" + quantity,
		ModuleID:   "m1",
		Quantity:   quantity,
		Comparator: ir.ComparatorTolerance,
		Expected:   ir.MustNumber(expected),
		Tolerance:  numPtr(tolerance),
	}
}

func TestEvaluate_ToleranceInclusiveBound(t *testing.T) {
	// Deviation exactly equal to the tolerance passes.
	snap := snapshotWith("v_us", "0.2253", nil)
	verdict := Evaluate(toleranceCert("v_us", "0.2243", "0.001"), snap)
	assert.Equal(t, StatusPass, verdict.Status)
	assert.True(t, verdict.Passed())
	assert.Empty(t, verdict.Reason)
}

func TestEvaluate_ToleranceExceeded(t *testing.T) {
	snap := snapshotWith("v_us", "0.3", nil)
	verdict := Evaluate(toleranceCert("v_us", "0.2243", "0.001"), snap)
	assert.Equal(t, StatusFail, verdict.Status)
	assert.Contains(t, verdict.Reason, "exceeds tolerance")
}

func TestEvaluate_MissingQuantityFailsClosed(t *testing.T) {
	verdict := Evaluate(toleranceCert("v_us", "0.2243", "0.001"), Snapshot{})
	assert.Equal(t, StatusFail, verdict.Status)
	assert.Contains(t, verdict.Reason, "no value registered")
}

func TestEvaluate_MissingToleranceFailsClosed(t *testing.T) {
	spec := toleranceCert("v_us", "0.2243", "0.001")
	spec.Tolerance = nil
	verdict := Evaluate(spec, snapshotWith("v_us", "0.2243", nil))
	assert.Equal(t, StatusFail, verdict.Status)
	assert.Contains(t, verdict.Reason, "no tolerance")
}

func TestEvaluate_SigmaComparator(t *testing.T) {
	spec := ir.CertificateSpec{
		ID:         "cert-mz",
		ModuleID:   "m1",
		Quantity:   "m_z",
		Comparator: ir.ComparatorSigma,
		Expected:   ir.MustNumber("91.1876"),
		SigmaBound: numPtr("2"),
	}

	// Deviation 0.004 at uncertainty 0.0021 is ~1.9 sigma: within bound.
	within := snapshotWith("m_z", "91.1916", numPtr("0.0021"))
	assert.Equal(t, StatusPass, Evaluate(spec, within).Status)

	// Deviation 0.01 at the same uncertainty is ~4.8 sigma: out.
	out := snapshotWith("m_z", "91.1976", numPtr("0.0021"))
	verdict := Evaluate(spec, out)
	assert.Equal(t, StatusFail, verdict.Status)
	assert.Contains(t, verdict.Reason, "sigma")
}

func TestEvaluate_SigmaWithoutUncertaintyFailsClosed(t *testing.T) {
	spec := ir.CertificateSpec{
		ID:         "cert-mz",
		ModuleID:   "m1",
		Quantity:   "m_z",
		Comparator: ir.ComparatorSigma,
		Expected:   ir.MustNumber("91.1876"),
		SigmaBound: numPtr("2"),
	}

	noUnc := snapshotWith("m_z", "91.1876", nil)
	verdict := Evaluate(spec, noUnc)
	assert.Equal(t, StatusFail, verdict.Status)
	assert.Contains(t, verdict.Reason, "no uncertainty")

	zeroUnc := snapshotWith("m_z", "91.1876", numPtr("0"))
	assert.Equal(t, StatusFail, Evaluate(spec, zeroUnc).Status)
}

func TestEvaluate_UnknownComparatorFailsClosed(t *testing.T) {
	spec := toleranceCert("v_us", "0.2243", "0.001")
	spec.Comparator = "FUZZY"
	verdict := Evaluate(spec, snapshotWith("v_us", "0.2243", nil))
	assert.Equal(t, StatusFail, verdict.Status)
	assert.Contains(t, verdict.Reason, "unknown comparator")
}

func TestEvaluate_Deterministic(t *testing.T) {
	spec := toleranceCert("b3", "24", "1e-9")
	snap := snapshotWith("b3", "24.0000000005", nil)

	first := Evaluate(spec, snap)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(spec, snap))
	}
}

func TestEvaluateAll_PreservesSpecOrder(t *testing.T) {
	snap := snapshotWith("b3", "24", nil)
	specs := []ir.CertificateSpec{
		toleranceCert("b3", "24", "0"),
		toleranceCert("missing", "1", "0"),
	}

	verdicts := EvaluateAll(specs, snap)
	require.Len(t, verdicts, 2)
	assert.Equal(t, StatusPass, verdicts[0].Status)
	assert.Equal(t, StatusFail, verdicts[1].Status)
	assert.Equal(t, "cert-b3", verdicts[0].CertificateID)
}
