package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/veritaslab/claimreg/internal/ir"
)

// CyclicDependencyError reports that adding a formula would make a value
// depend on itself. Path lists the value names in the offending strongly
// connected component, first node repeated at the end.
type CyclicDependencyError struct {
	ModuleID  ir.ModuleID
	FormulaID string
	Path      []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("formula %s/%s would create a derivation cycle: %s",
		e.ModuleID, e.FormulaID, strings.Join(e.Path, " -> "))
}

// IsCyclicDependency reports whether err is a CyclicDependencyError.
func IsCyclicDependency(err error) bool {
	var cyc *CyclicDependencyError
	return errors.As(err, &cyc)
}
