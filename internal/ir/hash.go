package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix enables future algorithm migration.
const (
	DomainValue   = "claimreg/value/v1"
	DomainFormula = "claimreg/formula/v1"
	DomainBundle  = "claimreg/bundle/v1"
	DomainFault   = "claimreg/fault/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ValueVersionID computes the content-addressed version id of a value.
//
// Identity covers the declaration only: Seq (commit audit metadata) and the
// VersionID field itself are excluded. A module resubmitting the identical
// declaration therefore produces the identical version id, which is what
// makes PutValue idempotent.
func ValueVersionID(v Value) (string, error) {
	obj := map[string]any{
		"name":      v.Name,
		"module_id": string(v.ModuleID),
		"number":    v.Number,
		"category":  string(v.Category),
	}
	if v.FormulaID != "" {
		obj["formula_id"] = v.FormulaID
	}
	if v.Uncertainty != nil {
		obj["uncertainty"] = *v.Uncertainty
	}
	if v.ExperimentalRef != "" {
		obj["experimental_ref"] = v.ExperimentalRef
	}
	if v.Canonical != "" {
		obj["canonical"] = string(v.Canonical)
	}
	if v.CanonicalTolerance != nil {
		obj["canonical_tolerance"] = *v.CanonicalTolerance
	}
	if v.Supersedes != "" {
		obj["supersedes"] = v.Supersedes
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ValueVersionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainValue, canonical), nil
}

// FormulaVersionID computes the content-addressed version id of a formula.
// Seq is excluded for the same reason as in ValueVersionID.
func FormulaVersionID(f Formula) (string, error) {
	obj := map[string]any{
		"id":         f.ID,
		"module_id":  string(f.ModuleID),
		"category":   string(f.Category),
		"inputs":     f.Inputs,
		"outputs":    f.Outputs,
		"step_count": f.StepCount,
	}
	if f.Supersedes != "" {
		obj["supersedes"] = f.Supersedes
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("FormulaVersionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFormula, canonical), nil
}

// BundleHash computes the content hash of a whole claim bundle from the
// version ids of its constituents. Used for idempotent submission detection:
// an identical bundle hashes identically regardless of when it is submitted.
func BundleHash(b ClaimBundle) (string, error) {
	valueIDs := make([]any, 0, len(b.Values))
	for _, v := range b.Values {
		id, err := ValueVersionID(v)
		if err != nil {
			return "", err
		}
		valueIDs = append(valueIDs, id)
	}
	formulaIDs := make([]any, 0, len(b.Formulas))
	for _, f := range b.Formulas {
		id, err := FormulaVersionID(f)
		if err != nil {
			return "", err
		}
		formulaIDs = append(formulaIDs, id)
	}
	certIDs := make([]any, 0, len(b.Certificates))
	for _, c := range b.Certificates {
		certIDs = append(certIDs, c.ID)
	}
	checkNames := make([]any, 0, len(b.Checks))
	for _, c := range b.Checks {
		checkNames = append(checkNames, c.Name)
	}

	obj := map[string]any{
		"module_id": string(b.ModuleID),
		"values":    valueIDs,
		"formulas":  formulaIDs,
		"certs":     certIDs,
		"checks":    checkNames,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("BundleHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBundle, canonical), nil
}

// FaultID computes the content-addressed id of a fault finding.
//
// Identity covers the disagreement itself (kind, canonical quantity, and the
// two subjects), never the sweep seq. Re-running the reconciler over
// unchanged data recomputes the same id and the append dedups to a no-op,
// which is what makes "exactly one fault per divergent pair" hold.
func FaultID(f Fault) (string, error) {
	obj := map[string]any{
		"kind":      string(f.Kind),
		"module_a":  string(f.ModuleA),
		"subject_a": f.SubjectA,
		"subject_b": f.SubjectB,
	}
	if f.Canonical != "" {
		obj["canonical"] = string(f.Canonical)
	}
	if f.ModuleB != "" {
		obj["module_b"] = string(f.ModuleB)
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("FaultID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFault, canonical), nil
}

// MustValueVersionID is like ValueVersionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustValueVersionID(v Value) string {
	id, err := ValueVersionID(v)
	if err != nil {
		panic(err)
	}
	return id
}

// MustFormulaVersionID is like FormulaVersionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFormulaVersionID(f Formula) string {
	id, err := FormulaVersionID(f)
	if err != nil {
		panic(err)
	}
	return id
}
