package ssot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/veritaslab/claimreg/internal/ir"
	"github.com/veritaslab/claimreg/internal/store"
)

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// registerCompleteModule commits every claim kind for a module, with a
// certificate and check that pass against the declared value.
func registerCompleteModule(t *testing.T, s *store.Store, moduleID ir.ModuleID, seq int64) {
	t.Helper()
	ctx := context.Background()

	if _, _, err := s.PutValue(ctx, ir.Value{
		Name:     "b3",
		ModuleID: moduleID,
		Number:   ir.MustNumber("24"),
		Category: ir.CategoryDerived,
		Seq:      seq,
	}); err != nil {
		t.Fatalf("PutValue() failed: %v", err)
	}
	if _, _, err := s.PutFormula(ctx, ir.Formula{
		ID:        "f-b3",
		ModuleID:  moduleID,
		Category:  ir.CategoryDerived,
		Outputs:   []string{"b3"},
		StepCount: 1,
		Seq:       seq,
	}); err != nil {
		t.Fatalf("PutFormula() failed: %v", err)
	}
	tol := ir.MustNumber("0.5")
	if err := s.PutCertificate(ctx, ir.CertificateSpec{
		ID:         "cert-b3",
		ModuleID:   moduleID,
		Quantity:   "b3",
		Comparator: ir.ComparatorTolerance,
		Expected:   ir.MustNumber("24"),
		Tolerance:  &tol,
		Seq:        seq,
	}); err != nil {
		t.Fatalf("PutCertificate() failed: %v", err)
	}
	if err := s.PutCheck(ctx, ir.CheckSpec{
		Name:     "check-b3",
		ModuleID: moduleID,
		Quantity: "b3",
		Expect:   ir.Interval{Lower: ir.MustNumber("23"), Upper: ir.MustNumber("25")},
		Seq:      seq,
	}); err != nil {
		t.Fatalf("PutCheck() failed: %v", err)
	}
	if err := s.PutReference(ctx, moduleID, ir.Reference{
		Key:      "pdg2024",
		Citation: "Particle Data Group, Review of Particle Physics (2024)",
	}, seq); err != nil {
		t.Fatalf("PutReference() failed: %v", err)
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.RecordSubmission(ctx, "sub-"+string(moduleID), moduleID, "hash-"+string(moduleID), seq); err != nil {
		t.Fatalf("RecordSubmission() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

func TestModuleStatus_CompleteCleanModule(t *testing.T) {
	s := createTestStore(t)
	registerCompleteModule(t, s, "m1", 1)

	status, err := New(s).ModuleStatus(context.Background(), "m1")
	if err != nil {
		t.Fatalf("ModuleStatus() failed: %v", err)
	}
	if !status.Complete() {
		t.Errorf("complete module reported incomplete: %+v", status)
	}
	if !status.CertificatesPassed || !status.SelfValidationPassed {
		t.Errorf("green module reported failing: %+v", status)
	}
	if !status.Clean() {
		t.Errorf("Clean() = false for fault-free green module: %+v", status)
	}
}

func TestModuleStatus_PartialRegistration(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Values only, nothing else.
	if _, _, err := s.PutValue(ctx, ir.Value{
		Name:     "b3",
		ModuleID: "m1",
		Number:   ir.MustNumber("24"),
		Category: ir.CategoryDerived,
		Seq:      1,
	}); err != nil {
		t.Fatalf("PutValue() failed: %v", err)
	}

	status, err := New(s).ModuleStatus(ctx, "m1")
	if err != nil {
		t.Fatalf("ModuleStatus() failed: %v", err)
	}
	if !status.HasParameters {
		t.Error("HasParameters = false after PutValue")
	}
	if status.HasFormulas || status.HasCertificates || status.HasSelfValidation || status.HasReferences {
		t.Errorf("unregistered claim kinds reported present: %+v", status)
	}
	if status.Complete() || status.Clean() {
		t.Error("partial registration must not be complete or clean")
	}
}

func TestModuleStatus_FaultMakesModuleUnclean(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerCompleteModule(t, s, "m1", 1)

	if _, err := s.AppendFault(ctx, ir.Fault{
		Kind:      ir.FaultValueDivergence,
		Canonical: "BETTI_3",
		ModuleA:   "m1",
		ModuleB:   "m2",
		SubjectA:  "va",
		SubjectB:  "vb",
		Detail:    "divergence",
		Seq:       2,
	}); err != nil {
		t.Fatalf("AppendFault() failed: %v", err)
	}

	status, err := New(s).ModuleStatus(ctx, "m1")
	if err != nil {
		t.Fatalf("ModuleStatus() failed: %v", err)
	}
	if status.FaultCount != 1 {
		t.Errorf("FaultCount = %d, want 1", status.FaultCount)
	}
	if !status.Complete() {
		t.Error("fault must not affect completeness")
	}
	if status.Clean() {
		t.Error("faulted module reported clean")
	}
}

func TestModuleStatus_RecomputedNotStored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	registerCompleteModule(t, s, "m1", 1)

	agg := New(s)
	before, err := agg.ModuleStatus(ctx, "m1")
	if err != nil {
		t.Fatalf("ModuleStatus() failed: %v", err)
	}
	if !before.CertificatesPassed {
		t.Fatal("precondition: certificates must pass before correction")
	}

	// Supersede the value with one outside the certificate tolerance.
	// The status flips on the next read with no status write anywhere.
	head, err := s.GetLatestValue(ctx, "m1", "b3")
	if err != nil {
		t.Fatalf("GetLatestValue() failed: %v", err)
	}
	corrected := ir.Value{
		Name:       "b3",
		ModuleID:   "m1",
		Number:     ir.MustNumber("30"),
		Category:   ir.CategoryDerived,
		Supersedes: head.VersionID,
		Seq:        2,
	}
	if _, _, err := s.PutValue(ctx, corrected); err != nil {
		t.Fatalf("superseding PutValue() failed: %v", err)
	}

	after, err := agg.ModuleStatus(ctx, "m1")
	if err != nil {
		t.Fatalf("ModuleStatus() failed: %v", err)
	}
	if after.CertificatesPassed {
		t.Error("certificate verdict must track the corrected value")
	}
	if after.SelfValidationPassed {
		t.Error("self-validation must track the corrected value")
	}
}

func TestGlobalSummary(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	registerCompleteModule(t, s, "m1", 1)
	registerCompleteModule(t, s, "m2", 2)
	if _, err := s.AppendFault(ctx, ir.Fault{
		Kind:      ir.FaultValueDivergence,
		Canonical: "BETTI_3",
		ModuleA:   "m2",
		ModuleB:   "m3",
		SubjectA:  "va",
		SubjectB:  "vb",
		Detail:    "divergence",
		Seq:       3,
	}); err != nil {
		t.Fatalf("AppendFault() failed: %v", err)
	}

	summary, err := New(s).GlobalSummary(ctx)
	if err != nil {
		t.Fatalf("GlobalSummary() failed: %v", err)
	}
	// m3 never submitted: named by a fault but not a registered module.
	if summary.TotalModules != 2 {
		t.Errorf("TotalModules = %d, want 2", summary.TotalModules)
	}
	if summary.CompleteModules != 2 {
		t.Errorf("CompleteModules = %d, want 2", summary.CompleteModules)
	}
	if summary.CleanModules != 1 {
		t.Errorf("CleanModules = %d, want 1 (m2 carries a fault)", summary.CleanModules)
	}
	if summary.ModulesWithFaults != 1 {
		t.Errorf("ModulesWithFaults = %d, want 1", summary.ModulesWithFaults)
	}
	if summary.FaultCount != 1 {
		t.Errorf("FaultCount = %d, want 1", summary.FaultCount)
	}
}

func TestGlobalSummary_EmptyRegistry(t *testing.T) {
	s := createTestStore(t)

	summary, err := New(s).GlobalSummary(context.Background())
	if err != nil {
		t.Fatalf("GlobalSummary() failed: %v", err)
	}
	if summary.TotalModules != 0 || summary.FaultCount != 0 {
		t.Errorf("empty registry summary = %+v", summary)
	}
}
