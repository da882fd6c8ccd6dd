package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Number is a numeric quantity carried as its declared decimal text.
//
// The text form is the unit of identity: "24" and "24.0" are distinct
// declarations (different version ids) even though they compare equal
// numerically. Hashing uses the text, arithmetic uses the parsed float64.
//
// The zero Number is empty and reports IsZero() == true. Empty Numbers are
// rejected by Validate and by canonical marshaling.
type Number struct {
	text string
}

// ParseNumber validates s as a decimal number and returns it as a Number.
// Accepts anything strconv.ParseFloat accepts except NaN and infinities,
// which have no canonical JSON form.
func ParseNumber(s string) (Number, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}, fmt.Errorf("empty number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Number{}, fmt.Errorf("invalid number %q: %w", s, err)
	}
	if isNaNOrInf(f) {
		return Number{}, fmt.Errorf("non-finite number %q is forbidden", s)
	}
	return Number{text: s}, nil
}

// MustNumber is like ParseNumber but panics on error.
// Use only in tests or with literal inputs known to be valid.
func MustNumber(s string) Number {
	n, err := ParseNumber(s)
	if err != nil {
		panic(err)
	}
	return n
}

// NumberFromFloat converts a float64 to a Number using the shortest decimal
// text that round-trips. Used for computed quantities, never for declared
// ones - declared values keep the author's exact text.
func NumberFromFloat(f float64) (Number, error) {
	if isNaNOrInf(f) {
		return Number{}, fmt.Errorf("non-finite float %v is forbidden", f)
	}
	return Number{text: strconv.FormatFloat(f, 'g', -1, 64)}, nil
}

func isNaNOrInf(f float64) bool {
	return f != f || f > 1.7976931348623157e308 || f < -1.7976931348623157e308
}

// String returns the declared decimal text.
func (n Number) String() string { return n.text }

// Float returns the parsed numeric value.
// The text was validated at construction, so parsing cannot fail here.
func (n Number) Float() float64 {
	f, _ := strconv.ParseFloat(n.text, 64)
	return f
}

// IsZero reports whether n is the empty Number (not the numeric value 0).
func (n Number) IsZero() bool { return n.text == "" }

// MarshalJSON emits the declared text as a raw JSON number.
func (n Number) MarshalJSON() ([]byte, error) {
	if n.text == "" {
		return nil, fmt.Errorf("cannot marshal empty number")
	}
	return []byte(n.text), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
// Uses json.Number to avoid float64 round-tripping of the declared text.
func (n *Number) UnmarshalJSON(data []byte) error {
	var raw json.Number
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		// Fall back to quoted numeric strings ("1e-9").
		var s string
		if err2 := json.Unmarshal(data, &s); err2 != nil {
			return fmt.Errorf("number: %w", err)
		}
		raw = json.Number(s)
	}
	parsed, err := ParseNumber(raw.String())
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// UnmarshalYAML accepts a YAML scalar, preserving the declared text exactly.
// Used by the conformance harness scenario format.
func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("number: expected scalar, got %v", node.Kind)
	}
	parsed, err := ParseNumber(node.Value)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
