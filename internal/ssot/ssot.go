// Package ssot projects single-source-of-truth status from the claim log.
//
// Status is never stored. Every field is recomputed from the registered
// declarations and the fault log at read time, so a status report cannot
// disagree with the data it describes.
package ssot

import (
	"context"
	"fmt"

	"github.com/veritaslab/claimreg/internal/cert"
	"github.com/veritaslab/claimreg/internal/ir"
	"github.com/veritaslab/claimreg/internal/selfval"
	"github.com/veritaslab/claimreg/internal/store"
)

// ModuleStatus is the computed registration status of one module.
type ModuleStatus struct {
	ModuleID          ir.ModuleID `json:"module_id"`
	HasParameters     bool        `json:"has_parameters"`
	HasFormulas       bool        `json:"has_formulas"`
	HasCertificates   bool        `json:"has_certificates"`
	HasSelfValidation bool        `json:"has_self_validation"`
	HasReferences     bool        `json:"has_references"`
	// CertificatesPassed and SelfValidationPassed are evaluated against the
	// module's head values at read time.
	CertificatesPassed   bool `json:"certificates_passed"`
	SelfValidationPassed bool `json:"self_validation_passed"`
	FaultCount           int  `json:"fault_count"`
}

// Complete reports whether all five claim kinds are registered.
func (s ModuleStatus) Complete() bool {
	return s.HasParameters && s.HasFormulas && s.HasCertificates &&
		s.HasSelfValidation && s.HasReferences
}

// Clean reports whether the module is complete, green, and fault-free.
func (s ModuleStatus) Clean() bool {
	return s.Complete() && s.CertificatesPassed && s.SelfValidationPassed &&
		s.FaultCount == 0
}

// Summary is the computed registry-wide status.
type Summary struct {
	TotalModules      int `json:"total_modules"`
	CompleteModules   int `json:"complete_modules"`
	CleanModules      int `json:"clean_modules"`
	ModulesWithFaults int `json:"modules_with_faults"`
	FaultCount        int `json:"fault_count"`
}

// Aggregator computes status projections over a store.
type Aggregator struct {
	store *store.Store
}

// New creates an aggregator over the given store.
func New(s *store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// ModuleStatus computes the status of one module.
func (a *Aggregator) ModuleStatus(ctx context.Context, moduleID ir.ModuleID) (ModuleStatus, error) {
	status := ModuleStatus{ModuleID: moduleID}

	values, err := a.store.LatestModuleValues(ctx, moduleID)
	if err != nil {
		return status, fmt.Errorf("read values for %s: %w", moduleID, err)
	}
	formulas, err := a.store.ReadModuleFormulas(ctx, moduleID)
	if err != nil {
		return status, fmt.Errorf("read formulas for %s: %w", moduleID, err)
	}
	certs, err := a.store.ReadModuleCertificates(ctx, moduleID)
	if err != nil {
		return status, fmt.Errorf("read certificates for %s: %w", moduleID, err)
	}
	checks, err := a.store.ReadModuleChecks(ctx, moduleID)
	if err != nil {
		return status, fmt.Errorf("read checks for %s: %w", moduleID, err)
	}
	refs, err := a.store.ReadModuleReferences(ctx, moduleID)
	if err != nil {
		return status, fmt.Errorf("read references for %s: %w", moduleID, err)
	}
	faults, err := a.store.FaultsForModule(ctx, moduleID)
	if err != nil {
		return status, fmt.Errorf("read faults for %s: %w", moduleID, err)
	}

	status.HasParameters = len(values) > 0
	status.HasFormulas = len(formulas) > 0
	status.HasCertificates = len(certs) > 0
	status.HasSelfValidation = len(checks) > 0
	status.HasReferences = len(refs) > 0
	status.FaultCount = len(faults)

	snap := cert.SnapshotOf(values)
	status.CertificatesPassed = allPassed(cert.EvaluateAll(certs, snap))
	status.SelfValidationPassed = selfval.Run(moduleID, checks, snap).Passed()
	return status, nil
}

// GlobalSummary computes the registry-wide summary across all modules that
// have ever submitted.
func (a *Aggregator) GlobalSummary(ctx context.Context) (Summary, error) {
	statuses, err := a.AllModuleStatuses(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{TotalModules: len(statuses)}
	for _, status := range statuses {
		if status.Complete() {
			summary.CompleteModules++
		}
		if status.Clean() {
			summary.CleanModules++
		}
		if status.FaultCount > 0 {
			summary.ModulesWithFaults++
		}
	}
	summary.FaultCount, err = a.store.CountFaults(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("count faults: %w", err)
	}
	return summary, nil
}

// AllModuleStatuses computes the status of every submitting module, in
// module id order.
func (a *Aggregator) AllModuleStatuses(ctx context.Context) ([]ModuleStatus, error) {
	moduleIDs, err := a.store.ModuleIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	statuses := make([]ModuleStatus, 0, len(moduleIDs))
	for _, id := range moduleIDs {
		status, err := a.ModuleStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func allPassed(verdicts []cert.Verdict) bool {
	for _, v := range verdicts {
		if !v.Passed() {
			return false
		}
	}
	return true
}
