package store

import (
	"context"
	"fmt"

	"github.com/veritaslab/claimreg/internal/ir"
)

// PutValue appends a value version. See Tx.PutValue.
func (s *Store) PutValue(ctx context.Context, v ir.Value) (string, bool, error) {
	return putValue(ctx, s.db, v)
}

// PutValue appends a value version inside the transaction.
//
// The version id is computed from the declaration content, so:
//   - content-identical resubmission hits ON CONFLICT(version_id) and is an
//     idempotent no-op (inserted=false)
//   - changed content without a supersedes reference collides on the
//     (module, name, supersedes) slot index and returns DuplicateVersionError
//
// Returns the version id and whether a new row was inserted.
func (t *Tx) PutValue(ctx context.Context, v ir.Value) (string, bool, error) {
	return putValue(ctx, t.tx, v)
}

func putValue(ctx context.Context, q execer, v ir.Value) (string, bool, error) {
	versionID, err := ir.ValueVersionID(v)
	if err != nil {
		return "", false, fmt.Errorf("put value: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO module_values
		(version_id, name, module_id, formula_id, number, uncertainty, category,
		 experimental_ref, canonical_id, canonical_tolerance, supersedes, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version_id) DO NOTHING
	`,
		versionID,
		v.Name,
		string(v.ModuleID),
		v.FormulaID,
		v.Number.String(),
		numberOrNull(v.Uncertainty),
		string(v.Category),
		v.ExperimentalRef,
		string(v.Canonical),
		numberOrNull(v.CanonicalTolerance),
		v.Supersedes,
		v.Seq,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Slot occupied by a different declaration.
			existing, lookupErr := slotOccupant(ctx, q, `
				SELECT version_id FROM module_values
				WHERE module_id = ? AND name = ? AND supersedes = ?
			`, string(v.ModuleID), v.Name, v.Supersedes)
			if lookupErr != nil {
				return "", false, fmt.Errorf("put value: %w", lookupErr)
			}
			return "", false, &DuplicateVersionError{
				Kind:      "value",
				ModuleID:  v.ModuleID,
				Name:      v.Name,
				Existing:  existing,
				Submitted: versionID,
			}
		}
		return "", false, fmt.Errorf("put value: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("put value: rows affected: %w", err)
	}
	return versionID, rows > 0, nil
}

// PutFormula appends a formula version. See Tx.PutFormula.
func (s *Store) PutFormula(ctx context.Context, f ir.Formula) (string, bool, error) {
	return putFormula(ctx, s.db, f)
}

// PutFormula appends a formula version inside the transaction.
// Same idempotency and slot-conflict semantics as PutValue.
func (t *Tx) PutFormula(ctx context.Context, f ir.Formula) (string, bool, error) {
	return putFormula(ctx, t.tx, f)
}

func putFormula(ctx context.Context, q execer, f ir.Formula) (string, bool, error) {
	versionID, err := ir.FormulaVersionID(f)
	if err != nil {
		return "", false, fmt.Errorf("put formula: %w", err)
	}

	inputsJSON, err := marshalNames(f.Inputs)
	if err != nil {
		return "", false, fmt.Errorf("put formula: %w", err)
	}
	outputsJSON, err := marshalNames(f.Outputs)
	if err != nil {
		return "", false, fmt.Errorf("put formula: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO formulas
		(version_id, formula_id, module_id, category, inputs, outputs, step_count, supersedes, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version_id) DO NOTHING
	`,
		versionID,
		f.ID,
		string(f.ModuleID),
		string(f.Category),
		inputsJSON,
		outputsJSON,
		f.StepCount,
		f.Supersedes,
		f.Seq,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := slotOccupant(ctx, q, `
				SELECT version_id FROM formulas
				WHERE module_id = ? AND formula_id = ? AND supersedes = ?
			`, string(f.ModuleID), f.ID, f.Supersedes)
			if lookupErr != nil {
				return "", false, fmt.Errorf("put formula: %w", lookupErr)
			}
			return "", false, &DuplicateVersionError{
				Kind:      "formula",
				ModuleID:  f.ModuleID,
				Name:      f.ID,
				Existing:  existing,
				Submitted: versionID,
			}
		}
		return "", false, fmt.Errorf("put formula: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("put formula: rows affected: %w", err)
	}
	return versionID, rows > 0, nil
}

// PutCertificate appends a certificate spec. See Tx.PutCertificate.
func (s *Store) PutCertificate(ctx context.Context, c ir.CertificateSpec) error {
	return putCertificate(ctx, s.db, c)
}

// PutCertificate appends a certificate spec inside the transaction.
//
// Certificates are keyed by (module, id). A content-identical resubmission
// is an idempotent no-op; a changed assertion under the same id is a
// DuplicateVersionError - a changed assertion is a new certificate and
// needs a new id.
func (t *Tx) PutCertificate(ctx context.Context, c ir.CertificateSpec) error {
	return putCertificate(ctx, t.tx, c)
}

func putCertificate(ctx context.Context, q execer, c ir.CertificateSpec) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO certificates
		(cert_id, module_id, quantity, comparator, expected, tolerance, sigma_bound, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(module_id, cert_id) DO NOTHING
	`,
		c.ID,
		string(c.ModuleID),
		c.Quantity,
		string(c.Comparator),
		c.Expected.String(),
		numberOrNull(c.Tolerance),
		numberOrNull(c.SigmaBound),
		c.Seq,
	)
	if err != nil {
		return fmt.Errorf("put certificate: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put certificate: rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Conflict - verify the stored spec matches the submitted one.
	existing, err := readCertificate(ctx, q, c.ModuleID, c.ID)
	if err != nil {
		return fmt.Errorf("put certificate: %w", err)
	}
	if !certSpecsEqual(existing, c) {
		return &DuplicateVersionError{
			Kind:     "certificate",
			ModuleID: c.ModuleID,
			Name:     c.ID,
			Existing: existing.ID,
		}
	}
	return nil
}

// PutCheck appends a self-validation check spec. See Tx.PutCheck.
func (s *Store) PutCheck(ctx context.Context, c ir.CheckSpec) error {
	return putCheck(ctx, s.db, c)
}

// PutCheck appends a self-validation check spec inside the transaction.
// Same keyed idempotency semantics as PutCertificate, keyed by (module, name).
func (t *Tx) PutCheck(ctx context.Context, c ir.CheckSpec) error {
	return putCheck(ctx, t.tx, c)
}

func putCheck(ctx context.Context, q execer, c ir.CheckSpec) error {
	cols, err := expectationColumns(c.Expect)
	if err != nil {
		return fmt.Errorf("put check: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO checks
		(module_id, name, quantity, lower, upper, sigma, has_expectation, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(module_id, name) DO NOTHING
	`,
		string(c.ModuleID),
		c.Name,
		c.Quantity,
		cols.lower,
		cols.upper,
		cols.sigma,
		cols.hasExpectation,
		c.Seq,
	)
	if err != nil {
		return fmt.Errorf("put check: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put check: rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	existing, err := readCheck(ctx, q, c.ModuleID, c.Name)
	if err != nil {
		return fmt.Errorf("put check: %w", err)
	}
	if !checkSpecsEqual(existing, c) {
		return &DuplicateVersionError{
			Kind:     "check",
			ModuleID: c.ModuleID,
			Name:     c.Name,
			Existing: existing.Name,
		}
	}
	return nil
}

// PutReference appends a citation. See Tx.PutReference.
func (s *Store) PutReference(ctx context.Context, moduleID ir.ModuleID, ref ir.Reference, seq int64) error {
	return putReference(ctx, s.db, moduleID, ref, seq)
}

// PutReference appends a citation inside the transaction. Idempotent on
// (module, key); a changed citation under the same key is rejected.
func (t *Tx) PutReference(ctx context.Context, moduleID ir.ModuleID, ref ir.Reference, seq int64) error {
	return putReference(ctx, t.tx, moduleID, ref, seq)
}

func putReference(ctx context.Context, q execer, moduleID ir.ModuleID, ref ir.Reference, seq int64) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO module_refs (module_id, ref_key, citation, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(module_id, ref_key) DO NOTHING
	`, string(moduleID), ref.Key, ref.Citation, seq)
	if err != nil {
		return fmt.Errorf("put reference: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put reference: rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var citation string
	err = q.QueryRowContext(ctx, `
		SELECT citation FROM module_refs WHERE module_id = ? AND ref_key = ?
	`, string(moduleID), ref.Key).Scan(&citation)
	if err != nil {
		return fmt.Errorf("put reference: %w", err)
	}
	if citation != ref.Citation {
		return &DuplicateVersionError{
			Kind:     "reference",
			ModuleID: moduleID,
			Name:     ref.Key,
			Existing: citation,
		}
	}
	return nil
}

// AppendFault records a reconciler finding. Returns whether a new fault row
// was inserted - re-appending the same finding (same content-addressed id)
// is a no-op, which keeps "exactly one fault per disagreement" true across
// repeated sweeps.
func (s *Store) AppendFault(ctx context.Context, f ir.Fault) (bool, error) {
	return appendFault(ctx, s.db, f)
}

// AppendFault records a reconciler finding inside the transaction.
func (t *Tx) AppendFault(ctx context.Context, f ir.Fault) (bool, error) {
	return appendFault(ctx, t.tx, f)
}

func appendFault(ctx context.Context, q execer, f ir.Fault) (bool, error) {
	if f.ID == "" {
		id, err := ir.FaultID(f)
		if err != nil {
			return false, fmt.Errorf("append fault: %w", err)
		}
		f.ID = id
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO faults
		(fault_id, kind, canonical_id, module_a, module_b, subject_a, subject_b, detail, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fault_id) DO NOTHING
	`,
		f.ID,
		string(f.Kind),
		string(f.Canonical),
		string(f.ModuleA),
		string(f.ModuleB),
		f.SubjectA,
		f.SubjectB,
		f.Detail,
		f.Seq,
	)
	if err != nil {
		return false, fmt.Errorf("append fault: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append fault: rows affected: %w", err)
	}
	return rows > 0, nil
}

// RecordSubmission writes the commit record for an accepted bundle.
func (t *Tx) RecordSubmission(ctx context.Context, token string, moduleID ir.ModuleID, bundleHash string, seq int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO submissions (token, module_id, bundle_hash, engine_version, schema_version, seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`, token, string(moduleID), bundleHash, ir.EngineVersion, ir.SchemaVersion, seq)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

func slotOccupant(ctx context.Context, q execer, query string, args ...any) (string, error) {
	var versionID string
	if err := q.QueryRowContext(ctx, query, args...).Scan(&versionID); err != nil {
		return "", fmt.Errorf("lookup slot occupant: %w", err)
	}
	return versionID, nil
}
