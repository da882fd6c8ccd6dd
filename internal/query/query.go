// Package query compiles declarative value queries to parameterized SQL.
//
// Callers describe what they want - a canonical quantity, a module, a
// category, a seq horizon - and the compiler produces the statement. Two
// rules hold for every compiled query:
//
//   - ALL queries include ORDER BY with a deterministic tiebreaker. Same
//     log, same query, same row order, always.
//   - All values are parameterized, never interpolated.
package query

import (
	"fmt"
	"strings"

	"github.com/veritaslab/claimreg/internal/ir"
)

// ValueQuery selects value versions from the claim log.
// Zero-value fields are unconstrained.
type ValueQuery struct {
	// Canonical restricts to values mapped to one canonical quantity.
	Canonical ir.CanonicalID
	// Module restricts to one submitting module.
	Module ir.ModuleID
	// Category restricts to one value category.
	Category ir.Category
	// SinceSeq restricts to versions committed after the given seq.
	SinceSeq int64
	// LatestOnly restricts to head versions: versions nothing supersedes.
	LatestOnly bool
	// Limit caps the number of rows. Zero means no cap.
	Limit int
}

// Validate checks the query before compilation.
// Pure; no side effects.
func (q ValueQuery) Validate() error {
	if q.Category != "" && !ir.ValidCategories[q.Category] {
		return fmt.Errorf("invalid query: unknown category %q", q.Category)
	}
	if q.SinceSeq < 0 {
		return fmt.Errorf("invalid query: negative since-seq %d", q.SinceSeq)
	}
	if q.Limit < 0 {
		return fmt.Errorf("invalid query: negative limit %d", q.Limit)
	}
	return nil
}

// valueColumns matches the store's module_values column order.
const valueColumns = `version_id, name, module_id, formula_id, number, uncertainty,
	category, experimental_ref, canonical_id, canonical_tolerance, supersedes, seq`

// notSuperseded filters to head versions.
const notSuperseded = `NOT EXISTS (
	SELECT 1 FROM module_values w
	WHERE w.module_id = v.module_id AND w.name = v.name AND w.supersedes = v.version_id
)`

// Compile produces the parameterized SQL statement for the query.
//
// The ORDER BY clause is unconditional: seq ascending, then version id
// with COLLATE BINARY so text ordering cannot vary across SQLite builds.
func (q ValueQuery) Compile() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var (
		conditions []string
		params     []any
	)
	if q.Canonical != "" {
		conditions = append(conditions, "v.canonical_id = ?")
		params = append(params, string(q.Canonical))
	}
	if q.Module != "" {
		conditions = append(conditions, "v.module_id = ?")
		params = append(params, string(q.Module))
	}
	if q.Category != "" {
		conditions = append(conditions, "v.category = ?")
		params = append(params, string(q.Category))
	}
	if q.SinceSeq > 0 {
		conditions = append(conditions, "v.seq > ?")
		params = append(params, q.SinceSeq)
	}
	if q.LatestOnly {
		conditions = append(conditions, notSuperseded)
	}

	var where string
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	sql := "SELECT " + valueColumns + " FROM module_values v" + where +
		" ORDER BY v.seq ASC, v.version_id COLLATE BINARY ASC"
	if q.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, q.Limit)
	}
	return sql, params, nil
}
