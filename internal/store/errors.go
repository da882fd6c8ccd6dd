package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/veritaslab/claimreg/internal/ir"
)

// DuplicateVersionError reports an attempt to write a different declaration
// into an already-occupied version slot.
//
// A slot is (module, name, supersedes): exactly one declaration may occupy
// it. Resubmitting content-identical data hits the same version id and is an
// idempotent no-op, never an error. Submitting changed content without
// superseding the prior version is the conflict this error reports - the fix
// is a new version carrying a supersedes back-reference, never an overwrite.
type DuplicateVersionError struct {
	Kind      string // "value" or "formula"
	ModuleID  ir.ModuleID
	Name      string // value name or formula id
	Existing  string // version id currently occupying the slot
	Submitted string // conflicting version id
}

// Error implements the error interface.
func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("duplicate %s version: %s/%s already declared as %s, conflicting submission %s (supersede it instead)",
		e.Kind, e.ModuleID, e.Name, shortHash(e.Existing), shortHash(e.Submitted))
}

// IsDuplicateVersion returns true if err is a DuplicateVersionError.
// Uses errors.As to handle wrapped errors.
func IsDuplicateVersion(err error) bool {
	var dup *DuplicateVersionError
	return errors.As(err, &dup)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint error.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
