package store

import (
	"context"
	"fmt"

	"github.com/veritaslab/claimreg/internal/ir"
)

// IntegrityReport is the result of replaying the append log.
//
// Replay re-derives every content-addressed id from the stored declarations
// and compares it against the stored id. A clean log replays byte-identical;
// any mismatch means the log was edited out-of-band and the registry's
// provenance can no longer be trusted.
type IntegrityReport struct {
	ValuesChecked   int      `json:"values_checked"`
	FormulasChecked int      `json:"formulas_checked"`
	FaultsChecked   int      `json:"faults_checked"`
	Mismatches      []string `json:"mismatches,omitempty"`
	BrokenChains    []string `json:"broken_chains,omitempty"`
}

// Clean reports whether the log replayed without findings.
func (r IntegrityReport) Clean() bool {
	return len(r.Mismatches) == 0 && len(r.BrokenChains) == 0
}

// VerifyIntegrity replays the whole log and recomputes every content hash.
//
// Reads only - never repairs. Ordering follows the log's deterministic
// read order, so two replays of the same database produce identical reports.
func (s *Store) VerifyIntegrity(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{}

	if err := s.verifyValues(ctx, &report); err != nil {
		return report, err
	}
	if err := s.verifyFormulas(ctx, &report); err != nil {
		return report, err
	}
	if err := s.verifyFaults(ctx, &report); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Store) verifyValues(ctx context.Context, report *IntegrityReport) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+valueColumns+`
		FROM module_values v
		ORDER BY v.seq ASC, v.version_id COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("verify values: %w", err)
	}
	values, err := collectValues(rows)
	if err != nil {
		return fmt.Errorf("verify values: %w", err)
	}

	known := make(map[string]bool, len(values))
	for _, v := range values {
		known[v.VersionID] = true
	}

	for _, v := range values {
		report.ValuesChecked++

		recomputed, err := ir.ValueVersionID(v)
		if err != nil {
			return fmt.Errorf("verify values: recompute %s/%s: %w", v.ModuleID, v.Name, err)
		}
		if recomputed != v.VersionID {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf(
				"value %s/%s: stored id %s, recomputed %s",
				v.ModuleID, v.Name, shortHash(v.VersionID), shortHash(recomputed)))
		}
		if v.Supersedes != "" && !known[v.Supersedes] {
			report.BrokenChains = append(report.BrokenChains, fmt.Sprintf(
				"value %s/%s supersedes unknown version %s",
				v.ModuleID, v.Name, shortHash(v.Supersedes)))
		}
	}
	return nil
}

func (s *Store) verifyFormulas(ctx context.Context, report *IntegrityReport) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version_id, formula_id, module_id, category, inputs, outputs, step_count, supersedes, seq
		FROM formulas
		ORDER BY seq ASC, version_id COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("verify formulas: %w", err)
	}
	defer rows.Close()

	var formulas []ir.Formula
	for rows.Next() {
		f, err := scanFormula(rows)
		if err != nil {
			return fmt.Errorf("verify formulas: %w", err)
		}
		formulas = append(formulas, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("verify formulas: %w", err)
	}

	known := make(map[string]bool, len(formulas))
	for _, f := range formulas {
		known[f.VersionID] = true
	}

	for _, f := range formulas {
		report.FormulasChecked++

		recomputed, err := ir.FormulaVersionID(f)
		if err != nil {
			return fmt.Errorf("verify formulas: recompute %s/%s: %w", f.ModuleID, f.ID, err)
		}
		if recomputed != f.VersionID {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf(
				"formula %s/%s: stored id %s, recomputed %s",
				f.ModuleID, f.ID, shortHash(f.VersionID), shortHash(recomputed)))
		}
		if f.Supersedes != "" && !known[f.Supersedes] {
			report.BrokenChains = append(report.BrokenChains, fmt.Sprintf(
				"formula %s/%s supersedes unknown version %s",
				f.ModuleID, f.ID, shortHash(f.Supersedes)))
		}
	}
	return nil
}

func (s *Store) verifyFaults(ctx context.Context, report *IntegrityReport) error {
	faults, err := s.ReadFaults(ctx, 0)
	if err != nil {
		return fmt.Errorf("verify faults: %w", err)
	}

	for _, f := range faults {
		report.FaultsChecked++

		recomputed, err := ir.FaultID(f)
		if err != nil {
			return fmt.Errorf("verify faults: recompute %s: %w", shortHash(f.ID), err)
		}
		if recomputed != f.ID {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf(
				"fault %s: stored id %s, recomputed %s",
				f.Kind, shortHash(f.ID), shortHash(recomputed)))
		}
	}
	return nil
}
