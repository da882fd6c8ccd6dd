// Package ir defines the intermediate representation for the claim registry.
//
// Every artifact a module declares - values, formulas, certificates,
// self-validation checks - is represented here as an immutable record with a
// content-addressed identity. Identity is computed over RFC 8785 canonical
// JSON (see canonical.go) with SHA-256 domain separation (see hash.go), so
// the same declaration always produces the same version id regardless of
// submission order or wall-clock time.
//
// Raw floats are forbidden in identity computation. Numeric quantities are
// carried as Number, a canonical decimal string: the declared text is what
// gets hashed, the parsed float64 is what gets compared. This keeps version
// ids stable across platforms while still allowing tolerance arithmetic.
package ir
