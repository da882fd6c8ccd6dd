package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veritaslab/claimreg/internal/ir"
)

const valueColumns = `version_id, name, module_id, formula_id, number, uncertainty,
	category, experimental_ref, canonical_id, canonical_tolerance, supersedes, seq`

// notSupersededValue filters to head versions: rows no later version of the
// same (module, name) chain points back to.
const notSupersededValue = `NOT EXISTS (
	SELECT 1 FROM module_values w
	WHERE w.module_id = v.module_id AND w.name = v.name AND w.supersedes = v.version_id
)`

// GetLatestValue returns the head version of (module, name).
// Returns sql.ErrNoRows if the value was never declared.
func (s *Store) GetLatestValue(ctx context.Context, moduleID ir.ModuleID, name string) (ir.Value, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+valueColumns+`
		FROM module_values v
		WHERE v.module_id = ? AND v.name = ? AND `+notSupersededValue+`
		ORDER BY v.seq DESC, v.version_id COLLATE BINARY ASC
		LIMIT 1
	`, string(moduleID), name)
	return scanValueRow(row)
}

// LatestModuleValues returns the head version of every value a module has
// declared, in deterministic order.
func (s *Store) LatestModuleValues(ctx context.Context, moduleID ir.ModuleID) ([]ir.Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+valueColumns+`
		FROM module_values v
		WHERE v.module_id = ? AND `+notSupersededValue+`
		ORDER BY v.seq ASC, v.version_id COLLATE BINARY ASC
	`, string(moduleID))
	if err != nil {
		return nil, fmt.Errorf("query module values: %w", err)
	}
	return collectValues(rows)
}

// ValueVersions returns every version in a (module, name) chain, oldest
// first. Used by the replay verifier to walk supersession history.
func (s *Store) ValueVersions(ctx context.Context, moduleID ir.ModuleID, name string) ([]ir.Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+valueColumns+`
		FROM module_values v
		WHERE v.module_id = ? AND v.name = ?
		ORDER BY v.seq ASC, v.version_id COLLATE BINARY ASC
	`, string(moduleID), name)
	if err != nil {
		return nil, fmt.Errorf("query value versions: %w", err)
	}
	return collectValues(rows)
}

// ResolveCanonical returns every module's head value mapped to the given
// canonical quantity. The reconciler compares these pairwise; downstream
// reporting tools read them instead of re-deriving.
func (s *Store) ResolveCanonical(ctx context.Context, canonicalID ir.CanonicalID) ([]ir.Value, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+valueColumns+`
		FROM module_values v
		WHERE v.canonical_id = ? AND `+notSupersededValue+`
		ORDER BY v.seq ASC, v.version_id COLLATE BINARY ASC
	`, string(canonicalID))
	if err != nil {
		return nil, fmt.Errorf("resolve canonical: %w", err)
	}
	return collectValues(rows)
}

// ListCanonicalIDs returns every canonical quantity any value maps to.
func (s *Store) ListCanonicalIDs(ctx context.Context) ([]ir.CanonicalID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT canonical_id FROM module_values
		WHERE canonical_id != ''
		ORDER BY canonical_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list canonical ids: %w", err)
	}
	defer rows.Close()

	ids := []ir.CanonicalID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan canonical id: %w", err)
		}
		ids = append(ids, ir.CanonicalID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate canonical ids: %w", err)
	}
	return ids, nil
}

// ReadModuleFormulas returns the head version of every formula a module has
// registered, in deterministic order.
func (s *Store) ReadModuleFormulas(ctx context.Context, moduleID ir.ModuleID) ([]ir.Formula, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, formula_id, module_id, category, inputs, outputs, step_count, supersedes, seq
		FROM formulas f
		WHERE f.module_id = ? AND NOT EXISTS (
			SELECT 1 FROM formulas g
			WHERE g.module_id = f.module_id AND g.formula_id = f.formula_id AND g.supersedes = f.version_id
		)
		ORDER BY f.seq ASC, f.version_id COLLATE BINARY ASC
	`, string(moduleID))
	if err != nil {
		return nil, fmt.Errorf("query module formulas: %w", err)
	}
	defer rows.Close()

	formulas := []ir.Formula{}
	for rows.Next() {
		f, err := scanFormula(rows)
		if err != nil {
			return nil, err
		}
		formulas = append(formulas, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate formulas: %w", err)
	}
	return formulas, nil
}

// ReadModuleCertificates returns a module's certificate specs in
// deterministic order.
func (s *Store) ReadModuleCertificates(ctx context.Context, moduleID ir.ModuleID) ([]ir.CertificateSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cert_id, module_id, quantity, comparator, expected, tolerance, sigma_bound, seq
		FROM certificates
		WHERE module_id = ?
		ORDER BY seq ASC, cert_id COLLATE BINARY ASC
	`, string(moduleID))
	if err != nil {
		return nil, fmt.Errorf("query certificates: %w", err)
	}
	defer rows.Close()

	certs := []ir.CertificateSpec{}
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return certs, nil
}

// ReadModuleChecks returns a module's self-validation check specs in
// deterministic order.
func (s *Store) ReadModuleChecks(ctx context.Context, moduleID ir.ModuleID) ([]ir.CheckSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, name, quantity, lower, upper, sigma, has_expectation, seq
		FROM checks
		WHERE module_id = ?
		ORDER BY seq ASC, name COLLATE BINARY ASC
	`, string(moduleID))
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()

	specs := []ir.CheckSpec{}
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checks: %w", err)
	}
	return specs, nil
}

// ReadModuleReferences returns a module's citations in deterministic order.
func (s *Store) ReadModuleReferences(ctx context.Context, moduleID ir.ModuleID) ([]ir.Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ref_key, citation FROM module_refs
		WHERE module_id = ?
		ORDER BY seq ASC, ref_key COLLATE BINARY ASC
	`, string(moduleID))
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	refs := []ir.Reference{}
	for rows.Next() {
		var r ir.Reference
		if err := rows.Scan(&r.Key, &r.Citation); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return refs, nil
}

// ReadFaults returns all faults with seq > since, in deterministic order.
// Pass since=0 for the full fault log.
func (s *Store) ReadFaults(ctx context.Context, since int64) ([]ir.Fault, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fault_id, kind, canonical_id, module_a, module_b, subject_a, subject_b, detail, seq
		FROM faults
		WHERE seq > ?
		ORDER BY seq ASC, fault_id COLLATE BINARY ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query faults: %w", err)
	}
	return collectFaults(rows)
}

// FaultsForModule returns faults naming the module on either side.
func (s *Store) FaultsForModule(ctx context.Context, moduleID ir.ModuleID) ([]ir.Fault, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fault_id, kind, canonical_id, module_a, module_b, subject_a, subject_b, detail, seq
		FROM faults
		WHERE module_a = ? OR module_b = ?
		ORDER BY seq ASC, fault_id COLLATE BINARY ASC
	`, string(moduleID), string(moduleID))
	if err != nil {
		return nil, fmt.Errorf("query module faults: %w", err)
	}
	return collectFaults(rows)
}

// CountFaults returns the total number of recorded faults.
func (s *Store) CountFaults(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM faults`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count faults: %w", err)
	}
	return n, nil
}

// ModulesWithFaults returns the distinct modules named by any fault.
func (s *Store) ModulesWithFaults(ctx context.Context) ([]ir.ModuleID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m FROM (
			SELECT module_a AS m FROM faults
			UNION
			SELECT module_b AS m FROM faults WHERE module_b != ''
		)
		ORDER BY m COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query faulted modules: %w", err)
	}
	defer rows.Close()

	modules := []ir.ModuleID{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan faulted module: %w", err)
		}
		modules = append(modules, ir.ModuleID(m))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faulted modules: %w", err)
	}
	return modules, nil
}

// ModuleIDs returns every module that has committed at least one submission.
func (s *Store) ModuleIDs(ctx context.Context) ([]ir.ModuleID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT module_id FROM submissions
		ORDER BY module_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query module ids: %w", err)
	}
	defer rows.Close()

	modules := []ir.ModuleID{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan module id: %w", err)
		}
		modules = append(modules, ir.ModuleID(m))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module ids: %w", err)
	}
	return modules, nil
}

// HasBundle reports whether a bundle with the given content hash has
// already been committed. Used for idempotent submission short-circuiting.
func (s *Store) HasBundle(ctx context.Context, bundleHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submissions WHERE bundle_hash = ?
	`, bundleHash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check bundle: %w", err)
	}
	return n > 0, nil
}

// LastSeq returns the highest logical sequence number in the log.
// Used to resume the clock after restart.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(m) FROM (
			SELECT MAX(seq) AS m FROM module_values
			UNION ALL SELECT MAX(seq) FROM formulas
			UNION ALL SELECT MAX(seq) FROM certificates
			UNION ALL SELECT MAX(seq) FROM checks
			UNION ALL SELECT MAX(seq) FROM faults
			UNION ALL SELECT MAX(seq) FROM submissions
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// readCertificate fetches one certificate spec. Returns sql.ErrNoRows if absent.
func readCertificate(ctx context.Context, q execer, moduleID ir.ModuleID, certID string) (ir.CertificateSpec, error) {
	row := q.QueryRowContext(ctx, `
		SELECT cert_id, module_id, quantity, comparator, expected, tolerance, sigma_bound, seq
		FROM certificates
		WHERE module_id = ? AND cert_id = ?
	`, string(moduleID), certID)
	return scanCertificateRow(row)
}

// readCheck fetches one check spec. Returns sql.ErrNoRows if absent.
func readCheck(ctx context.Context, q execer, moduleID ir.ModuleID, name string) (ir.CheckSpec, error) {
	row := q.QueryRowContext(ctx, `
		SELECT module_id, name, quantity, lower, upper, sigma, has_expectation, seq
		FROM checks
		WHERE module_id = ? AND name = ?
	`, string(moduleID), name)
	return scanCheckRow(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanValue(sc rowScanner) (ir.Value, error) {
	var (
		v                  ir.Value
		moduleID           string
		number             string
		uncertainty        sql.NullString
		category           string
		canonicalID        string
		canonicalTolerance sql.NullString
	)
	err := sc.Scan(&v.VersionID, &v.Name, &moduleID, &v.FormulaID, &number,
		&uncertainty, &category, &v.ExperimentalRef, &canonicalID,
		&canonicalTolerance, &v.Supersedes, &v.Seq)
	if err != nil {
		return ir.Value{}, err
	}

	v.ModuleID = ir.ModuleID(moduleID)
	v.Category = ir.Category(category)
	v.Canonical = ir.CanonicalID(canonicalID)
	if v.Number, err = scanNumber(number); err != nil {
		return ir.Value{}, fmt.Errorf("scan value number: %w", err)
	}
	if v.Uncertainty, err = scanOptionalNumber(uncertainty); err != nil {
		return ir.Value{}, fmt.Errorf("scan value uncertainty: %w", err)
	}
	if v.CanonicalTolerance, err = scanOptionalNumber(canonicalTolerance); err != nil {
		return ir.Value{}, fmt.Errorf("scan value tolerance: %w", err)
	}
	return v, nil
}

func scanValueRow(row *sql.Row) (ir.Value, error) {
	return scanValue(row)
}

func collectValues(rows *sql.Rows) ([]ir.Value, error) {
	defer rows.Close()

	values := []ir.Value{}
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return values, nil
}

func scanFormula(sc rowScanner) (ir.Formula, error) {
	var (
		f        ir.Formula
		moduleID string
		category string
		inputs   string
		outputs  string
	)
	err := sc.Scan(&f.VersionID, &f.ID, &moduleID, &category, &inputs, &outputs,
		&f.StepCount, &f.Supersedes, &f.Seq)
	if err != nil {
		return ir.Formula{}, err
	}

	f.ModuleID = ir.ModuleID(moduleID)
	f.Category = ir.Category(category)
	if f.Inputs, err = unmarshalNames(inputs); err != nil {
		return ir.Formula{}, fmt.Errorf("scan formula inputs: %w", err)
	}
	if f.Outputs, err = unmarshalNames(outputs); err != nil {
		return ir.Formula{}, fmt.Errorf("scan formula outputs: %w", err)
	}
	return f, nil
}

func scanCertificate(sc rowScanner) (ir.CertificateSpec, error) {
	var (
		c          ir.CertificateSpec
		moduleID   string
		comparator string
		expected   string
		tolerance  sql.NullString
		sigmaBound sql.NullString
	)
	err := sc.Scan(&c.ID, &moduleID, &c.Quantity, &comparator, &expected, &tolerance, &sigmaBound, &c.Seq)
	if err != nil {
		return ir.CertificateSpec{}, err
	}

	c.ModuleID = ir.ModuleID(moduleID)
	c.Comparator = ir.Comparator(comparator)
	if c.Expected, err = scanNumber(expected); err != nil {
		return ir.CertificateSpec{}, fmt.Errorf("scan certificate expected: %w", err)
	}
	if c.Tolerance, err = scanOptionalNumber(tolerance); err != nil {
		return ir.CertificateSpec{}, fmt.Errorf("scan certificate tolerance: %w", err)
	}
	if c.SigmaBound, err = scanOptionalNumber(sigmaBound); err != nil {
		return ir.CertificateSpec{}, fmt.Errorf("scan certificate sigma: %w", err)
	}
	return c, nil
}

func scanCertificateRow(row *sql.Row) (ir.CertificateSpec, error) {
	return scanCertificate(row)
}

func scanCheck(sc rowScanner) (ir.CheckSpec, error) {
	var (
		c              ir.CheckSpec
		moduleID       string
		lower          sql.NullString
		upper          sql.NullString
		sigma          sql.NullString
		hasExpectation int
	)
	err := sc.Scan(&moduleID, &c.Name, &c.Quantity, &lower, &upper, &sigma, &hasExpectation, &c.Seq)
	if err != nil {
		return ir.CheckSpec{}, err
	}

	c.ModuleID = ir.ModuleID(moduleID)
	if c.Expect, err = expectationFromColumns(lower, upper, sigma, hasExpectation); err != nil {
		return ir.CheckSpec{}, fmt.Errorf("scan check expectation: %w", err)
	}
	return c, nil
}

func scanCheckRow(row *sql.Row) (ir.CheckSpec, error) {
	return scanCheck(row)
}

func collectFaults(rows *sql.Rows) ([]ir.Fault, error) {
	defer rows.Close()

	faults := []ir.Fault{}
	for rows.Next() {
		var (
			f           ir.Fault
			kind        string
			canonicalID string
			moduleA     string
			moduleB     string
		)
		err := rows.Scan(&f.ID, &kind, &canonicalID, &moduleA, &moduleB,
			&f.SubjectA, &f.SubjectB, &f.Detail, &f.Seq)
		if err != nil {
			return nil, fmt.Errorf("scan fault: %w", err)
		}
		f.Kind = ir.FaultKind(kind)
		f.Canonical = ir.CanonicalID(canonicalID)
		f.ModuleA = ir.ModuleID(moduleA)
		f.ModuleB = ir.ModuleID(moduleB)
		faults = append(faults, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faults: %w", err)
	}
	return faults, nil
}
