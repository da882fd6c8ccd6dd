package store

import (
	"context"
	"fmt"

	"github.com/veritaslab/claimreg/internal/ir"
)

// RunValueQuery executes a compiled value query (see internal/query) and
// scans the result rows. The statement must select the module_values
// columns in schema order.
func (s *Store) RunValueQuery(ctx context.Context, sqlText string, params []any) ([]ir.Value, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("run value query: %w", err)
	}
	return collectValues(rows)
}
