package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/veritaslab/claimreg/internal/ir"
	"github.com/veritaslab/claimreg/internal/store"
)

// AssertionContext carries what assertion evaluation needs beyond the
// in-memory result: value_head and fault assertions read the store.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. All assertions evaluate; the first failure never masks the rest.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if msg := evaluateAssertion(result, &a, actx); msg != "" {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %s", i, a.Type, msg))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a *Assertion, actx *AssertionContext) string {
	switch a.Type {
	case AssertReceipt:
		return assertReceipt(result, a)
	case AssertCertificate:
		return assertCertificate(result, a)
	case AssertCheck:
		return assertCheck(result, a)
	case AssertFaultCount:
		return assertFaultCount(result, a, actx)
	case AssertFault:
		return assertFault(a, actx)
	case AssertModuleStatus:
		return assertModuleStatus(result, a)
	case AssertValueHead:
		return assertValueHead(a, actx)
	default:
		return fmt.Sprintf("unknown assertion type %q", a.Type)
	}
}

// assertReceipt checks the LAST receipt for the module, so a scenario that
// resubmits a bundle can assert on the duplicate outcome.
func assertReceipt(result *Result, a *Assertion) string {
	for i := len(result.Receipts) - 1; i >= 0; i-- {
		r := result.Receipts[i]
		if string(r.ModuleID) != a.Module {
			continue
		}
		if r.Duplicate != a.Duplicate {
			return fmt.Sprintf("module %s: duplicate = %v, want %v", a.Module, r.Duplicate, a.Duplicate)
		}
		return ""
	}
	return fmt.Sprintf("no receipt for module %s", a.Module)
}

func assertCertificate(result *Result, a *Assertion) string {
	for i := len(result.Receipts) - 1; i >= 0; i-- {
		r := result.Receipts[i]
		if string(r.ModuleID) != a.Module {
			continue
		}
		for _, v := range r.Certificates {
			if v.CertificateID == a.Certificate {
				if string(v.Status) != a.Status {
					return fmt.Sprintf("certificate %s: status %s, want %s (%s)",
						a.Certificate, v.Status, a.Status, v.Reason)
				}
				return ""
			}
		}
		return fmt.Sprintf("certificate %s not evaluated for module %s", a.Certificate, a.Module)
	}
	return fmt.Sprintf("no receipt for module %s", a.Module)
}

func assertCheck(result *Result, a *Assertion) string {
	for i := len(result.Receipts) - 1; i >= 0; i-- {
		r := result.Receipts[i]
		if string(r.ModuleID) != a.Module {
			continue
		}
		for _, c := range r.SelfValidation.Results {
			if c.Name == a.Check {
				if string(c.Status) != a.Status {
					return fmt.Sprintf("check %s: status %s, want %s (%s)",
						a.Check, c.Status, a.Status, c.Reason)
				}
				return ""
			}
		}
		return fmt.Sprintf("check %s not evaluated for module %s", a.Check, a.Module)
	}
	return fmt.Sprintf("no receipt for module %s", a.Module)
}

func assertFaultCount(result *Result, a *Assertion, actx *AssertionContext) string {
	count, err := actx.Store.CountFaults(actx.Ctx)
	if err != nil {
		return fmt.Sprintf("count faults: %v", err)
	}
	if count != a.Count {
		return fmt.Sprintf("fault count %d, want %d", count, a.Count)
	}
	return ""
}

func assertFault(a *Assertion, actx *AssertionContext) string {
	faults, err := actx.Store.ReadFaults(actx.Ctx, 0)
	if err != nil {
		return fmt.Sprintf("read faults: %v", err)
	}
	for _, f := range faults {
		if string(f.Kind) != a.Kind {
			continue
		}
		if a.Canonical != "" && string(f.Canonical) != a.Canonical {
			continue
		}
		if !faultNamesModules(f, a.Modules) {
			continue
		}
		return ""
	}
	return fmt.Sprintf("no %s fault matching canonical=%q modules=%v", a.Kind, a.Canonical, a.Modules)
}

// faultNamesModules reports whether the fault's module pair covers every
// listed module, in either order.
func faultNamesModules(f ir.Fault, modules []string) bool {
	for _, m := range modules {
		if string(f.ModuleA) != m && string(f.ModuleB) != m {
			return false
		}
	}
	return true
}

func assertModuleStatus(result *Result, a *Assertion) string {
	for _, s := range result.Statuses {
		if string(s.ModuleID) != a.Module {
			continue
		}
		if a.Complete != nil && s.Complete() != *a.Complete {
			return fmt.Sprintf("module %s: complete = %v, want %v", a.Module, s.Complete(), *a.Complete)
		}
		if a.Clean != nil && s.Clean() != *a.Clean {
			return fmt.Sprintf("module %s: clean = %v, want %v (faults=%d)", a.Module, s.Clean(), *a.Clean, s.FaultCount)
		}
		return ""
	}
	return fmt.Sprintf("module %s has no status projection", a.Module)
}

func assertValueHead(a *Assertion, actx *AssertionContext) string {
	v, err := actx.Store.GetLatestValue(actx.Ctx, ir.ModuleID(a.Module), a.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Sprintf("value %s/%s has no head version", a.Module, a.Value)
	}
	if err != nil {
		return fmt.Sprintf("read value %s/%s: %v", a.Module, a.Value, err)
	}
	if v.Number.String() != a.Number {
		return fmt.Sprintf("value %s/%s head is %s, want %s", a.Module, a.Value, v.Number, a.Number)
	}
	return ""
}
