package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/veritaslab/claimreg/internal/ir"
)

// Snapshot builds the golden representation of a scenario result.
//
// Deliberately hash-free: no bundle hashes, version ids, or fault ids
// appear. Those are covered by the ir hash tests; keeping them out of
// goldens means a change to identity derivation does not churn every
// golden file, only its own tests.
func Snapshot(scenarioName string, result *Result) map[string]any {
	submissions := make([]any, len(result.Receipts))
	for i, r := range result.Receipts {
		sub := map[string]any{
			"module":    string(r.ModuleID),
			"duplicate": r.Duplicate,
		}
		// Duplicate receipts carry no token and no seq.
		if r.Token != "" {
			sub["token"] = r.Token
		}
		if r.Seq > 0 {
			sub["seq"] = r.Seq
		}
		if len(r.Certificates) > 0 {
			certs := make([]any, len(r.Certificates))
			for j, v := range r.Certificates {
				c := map[string]any{
					"id":     v.CertificateID,
					"status": string(v.Status),
				}
				if v.Reason != "" {
					c["reason"] = v.Reason
				}
				certs[j] = c
			}
			sub["certificates"] = certs
		}
		if len(r.SelfValidation.Results) > 0 {
			checks := make([]any, len(r.SelfValidation.Results))
			for j, res := range r.SelfValidation.Results {
				c := map[string]any{
					"name":   res.Name,
					"status": string(res.Status),
				}
				if res.Reason != "" {
					c["reason"] = res.Reason
				}
				checks[j] = c
			}
			sub["checks"] = checks
		}
		submissions[i] = sub
	}

	modules := make([]any, len(result.Statuses))
	for i, s := range result.Statuses {
		modules[i] = map[string]any{
			"module":   string(s.ModuleID),
			"complete": s.Complete(),
			"clean":    s.Clean(),
			"faults":   int64(s.FaultCount),
		}
	}

	snapshot := map[string]any{
		"scenario":    scenarioName,
		"submissions": submissions,
		"modules":     modules,
	}

	if result.Sweep != nil {
		faults := make([]any, len(result.Sweep.Faults))
		for i, f := range result.Sweep.Faults {
			entry := map[string]any{
				"kind":     string(f.Kind),
				"module_a": string(f.ModuleA),
			}
			if f.Canonical != "" {
				entry["canonical"] = string(f.Canonical)
			}
			if f.ModuleB != "" {
				entry["module_b"] = string(f.ModuleB)
			}
			faults[i] = entry
		}
		snapshot["sweep"] = map[string]any{
			"canonicals_checked": int64(result.Sweep.CanonicalsChecked),
			"modules_checked":    int64(result.Sweep.ModulesChecked),
			"new_faults":         int64(result.Sweep.NewFaults),
			"faults":             faults,
		}
	}
	return snapshot
}

// RunWithGolden executes a scenario, fails the test on any assertion
// failure, and compares the snapshot against the scenario's golden file
// in testdata/golden/{name}.golden.
//
// To regenerate golden files:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	data, err := ir.MarshalCanonical(Snapshot(scenario.Name, result))
	if err != nil {
		t.Fatalf("scenario %s: marshal snapshot: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
}
