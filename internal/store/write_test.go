package store

import (
	"context"
	"errors"
	"testing"

	"github.com/veritaslab/claimreg/internal/ir"
)

func TestPutValue_Insert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, inserted, err := s.PutValue(ctx, testValue("m1", "b3", "24", 1))
	if err != nil {
		t.Fatalf("PutValue() failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true for fresh value")
	}
	if len(id) != 64 {
		t.Errorf("version id length = %d, want 64", len(id))
	}
}

func TestPutValue_IdempotentResubmission(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v := testValue("m1", "b3", "24", 1)
	id1, _, err := s.PutValue(ctx, v)
	if err != nil {
		t.Fatalf("first PutValue() failed: %v", err)
	}

	// Identical declaration, different submission seq: same version id, no-op.
	v.Seq = 2
	id2, inserted, err := s.PutValue(ctx, v)
	if err != nil {
		t.Fatalf("second PutValue() failed: %v", err)
	}
	if inserted {
		t.Error("identical resubmission must not insert a new row")
	}
	if id1 != id2 {
		t.Errorf("version ids differ: %s vs %s", id1, id2)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM module_values").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestPutValue_ConflictingContentIsDuplicateVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, _, err := s.PutValue(ctx, testValue("m1", "b3", "24", 1)); err != nil {
		t.Fatalf("PutValue() failed: %v", err)
	}

	// Same (module, name, supersedes) slot, different number.
	_, _, err := s.PutValue(ctx, testValue("m1", "b3", "25", 2))
	if err == nil {
		t.Fatal("expected DuplicateVersionError, got nil")
	}
	var dup *DuplicateVersionError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateVersionError, got %T: %v", err, err)
	}
	if dup.ModuleID != "m1" || dup.Name != "b3" {
		t.Errorf("error names wrong slot: %s/%s", dup.ModuleID, dup.Name)
	}
	if !IsDuplicateVersion(err) {
		t.Error("IsDuplicateVersion() = false, want true")
	}
}

func TestPutValue_SupersedeOpensNewSlot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	oldID, _, err := s.PutValue(ctx, testValue("m1", "b3", "24", 1))
	if err != nil {
		t.Fatalf("PutValue() failed: %v", err)
	}

	corrected := testValue("m1", "b3", "24.000001", 2)
	corrected.Supersedes = oldID
	newID, inserted, err := s.PutValue(ctx, corrected)
	if err != nil {
		t.Fatalf("superseding PutValue() failed: %v", err)
	}
	if !inserted {
		t.Error("superseding version must insert")
	}
	if newID == oldID {
		t.Error("superseding version must have a new id")
	}

	latest, err := s.GetLatestValue(ctx, "m1", "b3")
	if err != nil {
		t.Fatalf("GetLatestValue() failed: %v", err)
	}
	if latest.VersionID != newID {
		t.Errorf("latest = %s, want superseding version %s", latest.VersionID, newID)
	}

	// Both versions remain in the log - append-only, no deletion.
	versions, err := s.ValueVersions(ctx, "m1", "b3")
	if err != nil {
		t.Fatalf("ValueVersions() failed: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("version count = %d, want 2", len(versions))
	}
}

func TestPutFormula_InsertAndConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	f := testFormula("m1", "f-gen", []string{"b3"}, []string{"n_gen"}, 1)
	id, inserted, err := s.PutFormula(ctx, f)
	if err != nil {
		t.Fatalf("PutFormula() failed: %v", err)
	}
	if !inserted || len(id) != 64 {
		t.Errorf("unexpected insert result: inserted=%v id=%q", inserted, id)
	}

	// Identical resubmission is a no-op.
	_, inserted, err = s.PutFormula(ctx, f)
	if err != nil {
		t.Fatalf("resubmit PutFormula() failed: %v", err)
	}
	if inserted {
		t.Error("identical formula resubmission must not insert")
	}

	// Changed derivation without supersedes conflicts.
	changed := testFormula("m1", "f-gen", []string{"b3", "chi"}, []string{"n_gen"}, 2)
	if _, _, err := s.PutFormula(ctx, changed); !IsDuplicateVersion(err) {
		t.Errorf("expected DuplicateVersionError, got %v", err)
	}
}

func TestPutCertificate_IdempotentAndConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tol := ir.MustNumber("0.01")
	c := ir.CertificateSpec{
		ID:         "cert-ckm",
		ModuleID:   "m1",
		Quantity:   "v_us",
		Comparator: ir.ComparatorTolerance,
		Expected:   ir.MustNumber("0.2243"),
		Tolerance:  &tol,
		Seq:        1,
	}
	if err := s.PutCertificate(ctx, c); err != nil {
		t.Fatalf("PutCertificate() failed: %v", err)
	}
	if err := s.PutCertificate(ctx, c); err != nil {
		t.Errorf("identical certificate resubmission must succeed: %v", err)
	}

	changed := c
	changed.Expected = ir.MustNumber("0.9")
	if err := s.PutCertificate(ctx, changed); !IsDuplicateVersion(err) {
		t.Errorf("changed assertion under same id: expected DuplicateVersionError, got %v", err)
	}
}

func TestPutCheck_RoundTripExpectation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sigma := ir.MustNumber("3")
	withInterval := ir.CheckSpec{
		Name:     "check-b3",
		ModuleID: "m1",
		Quantity: "b3",
		Expect:   ir.Interval{Lower: ir.MustNumber("23.9"), Upper: ir.MustNumber("24.1"), Sigma: &sigma},
		Seq:      1,
	}
	noAnchor := ir.CheckSpec{
		Name:     "check-tau",
		ModuleID: "m1",
		Quantity: "tau",
		Expect:   ir.NoExpectation{},
		Seq:      1,
	}

	if err := s.PutCheck(ctx, withInterval); err != nil {
		t.Fatalf("PutCheck(interval) failed: %v", err)
	}
	if err := s.PutCheck(ctx, noAnchor); err != nil {
		t.Fatalf("PutCheck(no expectation) failed: %v", err)
	}

	specs, err := s.ReadModuleChecks(ctx, "m1")
	if err != nil {
		t.Fatalf("ReadModuleChecks() failed: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("check count = %d, want 2", len(specs))
	}

	// Deterministic order: both seq 1, name BINARY ascending.
	if specs[0].Name != "check-b3" || specs[1].Name != "check-tau" {
		t.Errorf("unexpected order: %s, %s", specs[0].Name, specs[1].Name)
	}

	interval, ok := specs[0].Expect.(ir.Interval)
	if !ok {
		t.Fatalf("check-b3 expectation type = %T, want Interval", specs[0].Expect)
	}
	if interval.Lower.String() != "23.9" || interval.Upper.String() != "24.1" {
		t.Errorf("interval bounds corrupted: [%s, %s]", interval.Lower, interval.Upper)
	}
	if interval.Sigma == nil || interval.Sigma.String() != "3" {
		t.Error("sigma bound corrupted")
	}

	if _, ok := specs[1].Expect.(ir.NoExpectation); !ok {
		t.Errorf("check-tau expectation type = %T, want NoExpectation", specs[1].Expect)
	}
}

func TestPutCheck_NilExpectationRejected(t *testing.T) {
	s := createTestStore(t)

	err := s.PutCheck(context.Background(), ir.CheckSpec{
		Name:     "check-x",
		ModuleID: "m1",
		Quantity: "x",
		Seq:      1,
	})
	if err == nil {
		t.Error("nil expectation must be rejected - NoExpectation is explicit, never implied")
	}
}

func TestAppendFault_DedupsByContent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	f := ir.Fault{
		Kind:      ir.FaultValueDivergence,
		Canonical: "BETTI_3",
		ModuleA:   "m1",
		ModuleB:   "m3",
		SubjectA:  "version-a",
		SubjectB:  "version-b",
		Detail:    "divergence 0.001 exceeds tolerance 1e-6",
		Seq:       5,
	}

	inserted, err := s.AppendFault(ctx, f)
	if err != nil {
		t.Fatalf("AppendFault() failed: %v", err)
	}
	if !inserted {
		t.Error("first append must insert")
	}

	// Same finding on a later sweep: content-addressed id dedups.
	f.Seq = 9
	inserted, err = s.AppendFault(ctx, f)
	if err != nil {
		t.Fatalf("second AppendFault() failed: %v", err)
	}
	if inserted {
		t.Error("re-appending the same finding must be a no-op")
	}

	n, err := s.CountFaults(ctx)
	if err != nil {
		t.Fatalf("CountFaults() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("fault count = %d, want 1", n)
	}
}

func TestTx_RollbackDiscardsBatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if _, _, err := tx.PutValue(ctx, testValue("m1", "b3", "24", 1)); err != nil {
		t.Fatalf("tx PutValue() failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	if _, err := s.GetLatestValue(ctx, "m1", "b3"); err == nil {
		t.Error("rolled-back value must not be visible")
	}
}

func TestTx_CommitAppliesBatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if _, _, err := tx.PutValue(ctx, testValue("m1", "b3", "24", 1)); err != nil {
		t.Fatalf("tx PutValue() failed: %v", err)
	}
	if _, _, err := tx.PutFormula(ctx, testFormula("m1", "f-b3", []string{}, []string{"b3"}, 1)); err != nil {
		t.Fatalf("tx PutFormula() failed: %v", err)
	}
	if err := tx.RecordSubmission(ctx, "sub-1", "m1", "hash-1", 1); err != nil {
		t.Fatalf("tx RecordSubmission() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if _, err := s.GetLatestValue(ctx, "m1", "b3"); err != nil {
		t.Errorf("committed value not visible: %v", err)
	}
	modules, err := s.ModuleIDs(ctx)
	if err != nil {
		t.Fatalf("ModuleIDs() failed: %v", err)
	}
	if len(modules) != 1 || modules[0] != "m1" {
		t.Errorf("modules = %v, want [m1]", modules)
	}
}
