// Package selfval runs a module's declared self-validation checks.
//
// Like certificate evaluation, a run is pure: results are a function of
// the check specs and a value snapshot. The aggregate outcome is a method
// over the individual results, computed at read time - it has no storage
// representation, so it cannot contradict the checks it summarizes.
package selfval

import (
	"fmt"
	"math"
	"strconv"

	"github.com/veritaslab/claimreg/internal/cert"
	"github.com/veritaslab/claimreg/internal/ir"
)

// CheckStatus is the outcome of one self-validation check.
type CheckStatus string

const (
	CheckPass CheckStatus = "PASS"
	CheckFail CheckStatus = "FAIL"
	// CheckNoExpectation marks a check whose spec declares no experimental
	// anchor. It is neither a pass nor a fail and stays out of the
	// aggregate AND.
	CheckNoExpectation CheckStatus = "NO_EXPECTATION"
)

// CheckResult is the computed outcome of one check.
type CheckResult struct {
	Name     string      `json:"name"`
	Quantity string      `json:"quantity"`
	Status   CheckStatus `json:"status"`
	Observed *ir.Number  `json:"observed,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// Report is one self-validation run over a module snapshot.
type Report struct {
	ModuleID ir.ModuleID   `json:"module_id"`
	Results  []CheckResult `json:"results"`
}

// Passed reports whether every anchored check passed. NO_EXPECTATION
// results do not count either way; a report with no anchored checks
// passes vacuously.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if res.Status == CheckFail {
			return false
		}
	}
	return true
}

// Counts returns how many results landed in each status.
func (r Report) Counts() (pass, fail, noExpectation int) {
	for _, res := range r.Results {
		switch res.Status {
		case CheckPass:
			pass++
		case CheckFail:
			fail++
		case CheckNoExpectation:
			noExpectation++
		}
	}
	return
}

// Run evaluates every check against the snapshot, in spec order.
func Run(moduleID ir.ModuleID, checks []ir.CheckSpec, snap cert.Snapshot) Report {
	report := Report{
		ModuleID: moduleID,
		Results:  make([]CheckResult, len(checks)),
	}
	for i, check := range checks {
		report.Results[i] = runCheck(check, snap)
	}
	return report
}

func runCheck(check ir.CheckSpec, snap cert.Snapshot) CheckResult {
	result := CheckResult{
		Name:     check.Name,
		Quantity: check.Quantity,
	}

	switch expect := check.Expect.(type) {
	case ir.NoExpectation:
		result.Status = CheckNoExpectation
		return result

	case ir.Interval:
		value, ok := snap[check.Quantity]
		if !ok {
			result.Status = CheckFail
			result.Reason = fmt.Sprintf("no value registered for quantity %q", check.Quantity)
			return result
		}
		observed := value.Number
		result.Observed = &observed

		actual := observed.Float()
		if actual < expect.Lower.Float() || actual > expect.Upper.Float() {
			result.Status = CheckFail
			result.Reason = fmt.Sprintf("observed %s outside [%s, %s]",
				observed, expect.Lower, expect.Upper)
			return result
		}
		if expect.Sigma != nil && value.Uncertainty != nil && !value.Uncertainty.IsZero() {
			mid := (expect.Lower.Float() + expect.Upper.Float()) / 2
			normalized := math.Abs(actual-mid) / value.Uncertainty.Float()
			if normalized > expect.Sigma.Float() {
				result.Status = CheckFail
				result.Reason = fmt.Sprintf("deviation from midpoint is %s sigma, bound is %s",
					strconv.FormatFloat(normalized, 'g', -1, 64), expect.Sigma)
				return result
			}
		}
		result.Status = CheckPass
		return result

	default:
		// A check with no tagged expectation is malformed. The store
		// rejects these at write time; fail closed if one slips through.
		result.Status = CheckFail
		result.Reason = "undefined expectation"
		return result
	}
}
