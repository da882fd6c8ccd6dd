package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumberPreservesText(t *testing.T) {
	n, err := ParseNumber("24.0")
	require.NoError(t, err)
	assert.Equal(t, "24.0", n.String(), "declared text must survive parsing")
	assert.Equal(t, 24.0, n.Float())
}

func TestParseNumberRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "  ", "abc", "1.2.3", "NaN", "Inf", "-Inf"} {
		_, err := ParseNumber(bad)
		assert.Error(t, err, "input %q should be rejected", bad)
	}
}

func TestNumberTextDistinguishesDeclarations(t *testing.T) {
	a := MustNumber("24")
	b := MustNumber("24.0")
	assert.NotEqual(t, a.String(), b.String(), "distinct declarations")
	assert.Equal(t, a.Float(), b.Float(), "numerically equal")
}

func TestNumberFromFloatRoundTrips(t *testing.T) {
	n, err := NumberFromFloat(0.958)
	require.NoError(t, err)
	assert.Equal(t, 0.958, n.Float())
}

func TestNumberJSONRoundTrip(t *testing.T) {
	n := MustNumber("1e-9")
	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Equal(t, "1e-9", string(data), "declared text emitted as raw JSON number")

	var back Number
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "1e-9", back.String())
}

func TestNumberUnmarshalQuotedString(t *testing.T) {
	var n Number
	require.NoError(t, json.Unmarshal([]byte(`"23.999"`), &n))
	assert.Equal(t, "23.999", n.String())
}

func TestNumberZeroValue(t *testing.T) {
	var n Number
	assert.True(t, n.IsZero())
	assert.False(t, MustNumber("0").IsZero(), "numeric zero is not the empty Number")

	_, err := json.Marshal(n)
	assert.Error(t, err, "empty number must not marshal")
}
