package server

import (
	"encoding/json"
	"fmt"

	"github.com/veritaslab/claimreg/internal/ir"
)

// submitRequest is the wire shape of POST /v1/bundles.
//
// Checks need their own payload type: the expectation is a tagged state
// ("NONE" or an interval), which plain struct decoding cannot express.
type submitRequest struct {
	Module       string               `json:"module"`
	Values       []ir.Value           `json:"values,omitempty"`
	Formulas     []ir.Formula         `json:"formulas,omitempty"`
	Certificates []ir.CertificateSpec `json:"certificates,omitempty"`
	Checks       []checkPayload       `json:"checks,omitempty"`
	References   []ir.Reference       `json:"references,omitempty"`
}

type checkPayload struct {
	Name     string          `json:"name"`
	Quantity string          `json:"quantity"`
	Expect   json.RawMessage `json:"expect"`
}

type intervalPayload struct {
	Lower ir.Number  `json:"lower"`
	Upper ir.Number  `json:"upper"`
	Sigma *ir.Number `json:"sigma,omitempty"`
}

// toBundle converts the wire request into the registry IR, stamping the
// bundle's module id onto every claim.
func (r submitRequest) toBundle() (ir.ClaimBundle, error) {
	moduleID := ir.ModuleID(r.Module)
	bundle := ir.ClaimBundle{
		ModuleID:     moduleID,
		Values:       r.Values,
		Formulas:     r.Formulas,
		Certificates: r.Certificates,
		References:   r.References,
	}
	for i := range bundle.Values {
		bundle.Values[i].ModuleID = moduleID
	}
	for i := range bundle.Formulas {
		bundle.Formulas[i].ModuleID = moduleID
	}
	for i := range bundle.Certificates {
		bundle.Certificates[i].ModuleID = moduleID
	}
	for _, c := range r.Checks {
		expect, err := parseExpect(c.Expect)
		if err != nil {
			return ir.ClaimBundle{}, fmt.Errorf("check %q: %w", c.Name, err)
		}
		bundle.Checks = append(bundle.Checks, ir.CheckSpec{
			Name:     c.Name,
			ModuleID: moduleID,
			Quantity: c.Quantity,
			Expect:   expect,
		})
	}
	return bundle, nil
}

func parseExpect(raw json.RawMessage) (ir.Expectation, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf(`expect is required; use "NONE" for an unanchored check`)
	}
	var tag string
	if err := json.Unmarshal(raw, &tag); err == nil {
		if tag == "NONE" {
			return ir.NoExpectation{}, nil
		}
		return nil, fmt.Errorf(`unknown expectation %q; use an interval or "NONE"`, tag)
	}
	var interval intervalPayload
	if err := json.Unmarshal(raw, &interval); err != nil {
		return nil, fmt.Errorf("malformed expectation: %w", err)
	}
	if interval.Lower.IsZero() || interval.Upper.IsZero() {
		return nil, fmt.Errorf("interval expectation requires lower and upper")
	}
	return ir.Interval{Lower: interval.Lower, Upper: interval.Upper, Sigma: interval.Sigma}, nil
}
