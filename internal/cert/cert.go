// Package cert evaluates certificate assertions against a value snapshot.
//
// Evaluation is a pure function: same spec, same snapshot, same verdict.
// Nothing here touches storage and no verdict is ever persisted - callers
// recompute on every read, so a verdict can never drift out of agreement
// with the values it was computed from.
package cert

import (
	"fmt"
	"math"
	"strconv"

	"github.com/veritaslab/claimreg/internal/ir"
)

// Status is a certificate verdict outcome.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Snapshot is the head value version of each named quantity in one module,
// keyed by value name.
type Snapshot map[string]ir.Value

// SnapshotOf builds a Snapshot from head value versions.
func SnapshotOf(values []ir.Value) Snapshot {
	snap := make(Snapshot, len(values))
	for _, v := range values {
		snap[v.Name] = v
	}
	return snap
}

// Verdict is the computed outcome of one certificate against one snapshot.
type Verdict struct {
	CertificateID string      `json:"certificate_id"`
	ModuleID      ir.ModuleID `json:"module_id"`
	Quantity      string      `json:"quantity"`
	Status        Status      `json:"status"`
	// Reason explains a FAIL; empty on PASS.
	Reason string `json:"reason,omitempty"`
}

// Passed reports whether the verdict is a pass.
func (v Verdict) Passed() bool {
	return v.Status == StatusPass
}

// Evaluate computes the verdict for one certificate.
//
// Missing data always fails closed: an absent quantity, an absent tolerance
// on a TOLERANCE certificate, or an absent uncertainty on a SIGMA
// certificate is a FAIL with a reason, never a silent pass.
func Evaluate(spec ir.CertificateSpec, snap Snapshot) Verdict {
	verdict := Verdict{
		CertificateID: spec.ID,
		ModuleID:      spec.ModuleID,
		Quantity:      spec.Quantity,
	}

	value, ok := snap[spec.Quantity]
	if !ok {
		verdict.Status = StatusFail
		verdict.Reason = fmt.Sprintf("no value registered for quantity %q", spec.Quantity)
		return verdict
	}

	deviation := math.Abs(value.Number.Float() - spec.Expected.Float())

	switch spec.Comparator {
	case ir.ComparatorTolerance:
		if spec.Tolerance == nil {
			verdict.Status = StatusFail
			verdict.Reason = "TOLERANCE certificate declares no tolerance"
			return verdict
		}
		if deviation <= spec.Tolerance.Float() {
			verdict.Status = StatusPass
			return verdict
		}
		verdict.Status = StatusFail
		verdict.Reason = fmt.Sprintf("deviation %s exceeds tolerance %s",
			formatFloat(deviation), spec.Tolerance)
		return verdict

	case ir.ComparatorSigma:
		if spec.SigmaBound == nil {
			verdict.Status = StatusFail
			verdict.Reason = "SIGMA certificate declares no sigma bound"
			return verdict
		}
		if value.Uncertainty == nil || value.Uncertainty.IsZero() {
			verdict.Status = StatusFail
			verdict.Reason = fmt.Sprintf("value %q carries no uncertainty", spec.Quantity)
			return verdict
		}
		normalized := deviation / value.Uncertainty.Float()
		if normalized <= spec.SigmaBound.Float() {
			verdict.Status = StatusPass
			return verdict
		}
		verdict.Status = StatusFail
		verdict.Reason = fmt.Sprintf("deviation is %s sigma, bound is %s",
			formatFloat(normalized), spec.SigmaBound)
		return verdict

	default:
		verdict.Status = StatusFail
		verdict.Reason = fmt.Sprintf("unknown comparator %q", spec.Comparator)
		return verdict
	}
}

// EvaluateAll computes verdicts for every certificate in spec order.
func EvaluateAll(specs []ir.CertificateSpec, snap Snapshot) []Verdict {
	verdicts := make([]Verdict, len(specs))
	for i, spec := range specs {
		verdicts[i] = Evaluate(spec, snap)
	}
	return verdicts
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
