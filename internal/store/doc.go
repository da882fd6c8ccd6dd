// Package store provides SQLite-backed durable storage for the claim
// registry's append-only log.
//
// The store holds declarations only:
//   - Values: versioned named scalars with provenance
//   - Formulas: versioned derivations (input/output value names)
//   - Certificates: declared assertions (specs, never verdicts)
//   - Checks: declared self-validation checks (specs, never results)
//   - Faults: reconciler findings (append-only, content-addressed)
//   - Submissions: bundle commit records with logical seq
//
// Nothing in the store is ever updated or deleted. Corrections are new
// versions carrying a supersedes back-reference; verdicts and statuses are
// recomputed on read from the declarations, so a stored flag can never
// contradict the data that justifies it.
//
// # Critical patterns
//
// Idempotent append: every insert uses ON CONFLICT DO NOTHING keyed on the
// content-addressed id. Resubmitting identical content is a no-op; writing
// different content into an occupied (module, name, supersedes) slot is a
// DuplicateVersionError.
//
// Logical time: all ordering uses seq INTEGER (logical clock), never
// timestamps, so replay is deterministic regardless of wall time.
//
// Deterministic reads: every multi-row query orders by
// seq ASC, <id> COLLATE BINARY ASC.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes; the reconciler sweeps on a
//     read snapshot while submissions commit
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// All content-addressed ids are computed in internal/ir/hash.go using
// RFC 8785 canonical JSON and SHA-256 with domain separation.
package store
