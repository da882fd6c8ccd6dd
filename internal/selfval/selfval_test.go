package selfval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritaslab/claimreg/internal/cert"
	"github.com/veritaslab/claimreg/internal/ir"
)

func numPtr(s string) *ir.Number {
	n := ir.MustNumber(s)
	return &n
}

func intervalCheck(name, quantity, lower, upper string) ir.CheckSpec {
	return ir.CheckSpec{
		Name:     name,
		ModuleID: "m1",
		Quantity: quantity,
		Expect:   ir.Interval{Lower: ir.MustNumber(lower), Upper: ir.MustNumber(upper)},
	}
}

func snapValue(name, number string, uncertainty *ir.Number) ir.Value {
	return ir.Value{
		Name:        name,
		ModuleID:    "m1",
		Number:      ir.MustNumber(number),
		Uncertainty: uncertainty,
		Category:    ir.CategoryDerived,
	}
}

func TestRun_IntervalBoundsInclusive(t *testing.T) {
	snap := cert.SnapshotOf([]ir.Value{snapValue("tau", "1.77686", nil)})

	onLower := Run("m1", []ir.CheckSpec{intervalCheck("c1", "tau", "1.77686", "1.8")}, snap)
	require.Len(t, onLower.Results, 1)
	assert.Equal(t, CheckPass, onLower.Results[0].Status)

	onUpper := Run("m1", []ir.CheckSpec{intervalCheck("c1", "tau", "1.7", "1.77686")}, snap)
	assert.Equal(t, CheckPass, onUpper.Results[0].Status)

	outside := Run("m1", []ir.CheckSpec{intervalCheck("c1", "tau", "1.8", "1.9")}, snap)
	assert.Equal(t, CheckFail, outside.Results[0].Status)
	assert.Contains(t, outside.Results[0].Reason, "outside")
}

func TestRun_NoExpectationStaysOutOfAggregate(t *testing.T) {
	snap := cert.SnapshotOf([]ir.Value{snapValue("b3", "24", nil)})
	checks := []ir.CheckSpec{
		intervalCheck("anchored", "b3", "23.9", "24.1"),
		{Name: "unanchored", ModuleID: "m1", Quantity: "n_gen", Expect: ir.NoExpectation{}},
	}

	report := Run("m1", checks, snap)
	require.Len(t, report.Results, 2)
	assert.Equal(t, CheckPass, report.Results[0].Status)
	assert.Equal(t, CheckNoExpectation, report.Results[1].Status)
	assert.True(t, report.Passed(), "NO_EXPECTATION must not fail the aggregate")

	pass, fail, noExp := report.Counts()
	assert.Equal(t, 1, pass)
	assert.Equal(t, 0, fail)
	assert.Equal(t, 1, noExp)
}

func TestRun_MissingValueFailsClosed(t *testing.T) {
	report := Run("m1", []ir.CheckSpec{intervalCheck("c1", "ghost", "0", "1")}, cert.Snapshot{})
	assert.Equal(t, CheckFail, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Reason, "no value registered")
	assert.False(t, report.Passed())
}

func TestRun_UndefinedExpectationFailsClosed(t *testing.T) {
	// Expect left nil: malformed, distinct from the explicit NoExpectation.
	check := ir.CheckSpec{Name: "c1", ModuleID: "m1", Quantity: "b3"}
	snap := cert.SnapshotOf([]ir.Value{snapValue("b3", "24", nil)})

	report := Run("m1", []ir.CheckSpec{check}, snap)
	assert.Equal(t, CheckFail, report.Results[0].Status)
	assert.Equal(t, "undefined expectation", report.Results[0].Reason)
}

func TestRun_SigmaBoundWithinInterval(t *testing.T) {
	// In the interval but far from the midpoint relative to uncertainty.
	snap := cert.SnapshotOf([]ir.Value{snapValue("m_w", "80.4", numPtr("0.01"))})
	check := ir.CheckSpec{
		Name:     "c1",
		ModuleID: "m1",
		Quantity: "m_w",
		Expect: ir.Interval{
			Lower: ir.MustNumber("80.3"),
			Upper: ir.MustNumber("80.42"),
			Sigma: numPtr("2"),
		},
	}

	report := Run("m1", []ir.CheckSpec{check}, snap)
	assert.Equal(t, CheckFail, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Reason, "sigma")
}

func TestPassed_IsConjunctionOfAnchoredChecks(t *testing.T) {
	snap := cert.SnapshotOf([]ir.Value{
		snapValue("a", "1", nil),
		snapValue("b", "99", nil),
	})
	checks := []ir.CheckSpec{
		intervalCheck("pass-a", "a", "0", "2"),
		intervalCheck("fail-b", "b", "0", "2"),
	}

	report := Run("m1", checks, snap)
	assert.False(t, report.Passed(), "one failing check fails the aggregate")

	// Drop the failing check: aggregate flips to pass. Nothing is stored,
	// so there is no stale aggregate to contradict.
	report = Run("m1", checks[:1], snap)
	assert.True(t, report.Passed())
}

func TestRun_EmptyChecksPassVacuously(t *testing.T) {
	report := Run("m1", nil, cert.Snapshot{})
	assert.True(t, report.Passed())
	assert.Empty(t, report.Results)
}
