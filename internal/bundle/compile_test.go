package bundle

import (
	"testing"

	"cuelang.org/go/cue/cuecontext"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritaslab/claimreg/internal/ir"
)

func compileString(t *testing.T, src string) (*ir.ClaimBundle, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err(), "test CUE source must parse")
	return Compile(v)
}

const completeBundle = `
module: "k7-topology"

value: b3: {
	number:   "24"
	category: "GEOMETRIC"
	formula:  "f-b3"
	canonical: "BETTI_3"
	canonical_tolerance: "1e-9"
}
value: chi: {
	number:      72
	category:    "DERIVED"
	uncertainty: "0.5"
}

formula: "f-b3": {
	category: "GEOMETRIC"
	outputs: ["b3"]
	steps: 2
}
formula: "f-chi": {
	category: "DERIVED"
	inputs: ["b3"]
	outputs: ["chi"]
	steps: 1
}

certificate: "cert-b3": {
	quantity:   "b3"
	comparator: "TOLERANCE"
	expected:   "24"
	tolerance:  "1e-9"
}

check: "check-b3": {
	quantity: "b3"
	expect: {lower: "23", upper: "25", sigma: "3"}
}
check: "check-chi": {
	quantity: "chi"
	expect:   "NONE"
}

reference: joyce2000: "Joyce, Compact Manifolds with Special Holonomy (2000)"
`

func TestCompile_CompleteBundle(t *testing.T) {
	b, err := compileString(t, completeBundle)
	require.NoError(t, err)

	assert.Equal(t, ir.ModuleID("k7-topology"), b.ModuleID)

	require.Len(t, b.Values, 2)
	// Sorted by name regardless of declaration order.
	assert.Equal(t, "b3", b.Values[0].Name)
	assert.Equal(t, "24", b.Values[0].Number.String())
	assert.Equal(t, ir.CategoryGeometric, b.Values[0].Category)
	assert.Equal(t, ir.CanonicalID("BETTI_3"), b.Values[0].Canonical)
	require.NotNil(t, b.Values[0].CanonicalTolerance)
	assert.Equal(t, "1e-9", b.Values[0].CanonicalTolerance.String())

	// Integer literal is fine; it has exact decimal text.
	assert.Equal(t, "72", b.Values[1].Number.String())
	require.NotNil(t, b.Values[1].Uncertainty)

	require.Len(t, b.Formulas, 2)
	assert.Equal(t, "f-b3", b.Formulas[0].ID)
	assert.Equal(t, 2, b.Formulas[0].StepCount)
	assert.Equal(t, []string{"b3"}, b.Formulas[1].Inputs)

	require.Len(t, b.Certificates, 1)
	assert.Equal(t, ir.ComparatorTolerance, b.Certificates[0].Comparator)

	require.Len(t, b.Checks, 2)
	interval, ok := b.Checks[0].Expect.(ir.Interval)
	require.True(t, ok)
	assert.Equal(t, "23", interval.Lower.String())
	require.NotNil(t, interval.Sigma)
	_, ok = b.Checks[1].Expect.(ir.NoExpectation)
	assert.True(t, ok, "expect \"NONE\" compiles to the explicit no-anchor state")

	require.Len(t, b.References, 1)
	assert.Equal(t, "joyce2000", b.References[0].Key)
}

func TestCompile_DeclarationOrderIrrelevant(t *testing.T) {
	reordered := `
module: "k7-topology"
value: z_last: {number: "1", category: "DERIVED"}
value: a_first: {number: "2", category: "DERIVED"}
`
	b, err := compileString(t, reordered)
	require.NoError(t, err)
	require.Len(t, b.Values, 2)
	assert.Equal(t, "a_first", b.Values[0].Name)
	assert.Equal(t, "z_last", b.Values[1].Name)
}

func TestCompile_MissingModule(t *testing.T) {
	_, err := compileString(t, `value: b3: {number: "24", category: "DERIVED"}`)
	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "module", compileErr.Field)
}

func TestCompile_FloatLiteralRejected(t *testing.T) {
	src := `
module: "m1"
value: tau: {number: 1.77686, category: "DERIVED"}
`
	_, err := compileString(t, src)
	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Contains(t, compileErr.Message, "quote the decimal text")
}

func TestCompile_MissingRequiredFields(t *testing.T) {
	cases := []struct{ name, src, wantField string }{
		{
			"value without number",
			`module: "m1", value: b3: {category: "DERIVED"}`,
			"value.b3.number",
		},
		{
			"value without category",
			`module: "m1", value: b3: {number: "24"}`,
			"value.b3.category",
		},
		{
			"certificate without quantity",
			`module: "m1", certificate: "c1": {comparator: "TOLERANCE", expected: "1", tolerance: "0"}`,
			"certificate.c1.quantity",
		},
		{
			"check without expect",
			`module: "m1", check: "c1": {quantity: "b3"}`,
			"check.c1.expect",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compileString(t, tc.src)
			require.Error(t, err)
			var compileErr *CompileError
			require.ErrorAs(t, err, &compileErr)
			assert.Equal(t, tc.wantField, compileErr.Field)
		})
	}
}

func TestCompile_UnknownExpectationString(t *testing.T) {
	src := `
module: "m1"
check: "c1": {quantity: "b3", expect: "WHATEVER"}
`
	_, err := compileString(t, src)
	require.Error(t, err)
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Contains(t, compileErr.Message, "WHATEVER")
}

func TestCompile_InvalidNumberText(t *testing.T) {
	src := `
module: "m1"
value: b3: {number: "not-a-number", category: "DERIVED"}
`
	_, err := compileString(t, src)
	assert.Error(t, err)
}
