package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainPlanKey = "rangeplan/plan/v1"
	DomainBounds  = "rangeplan/bounds/v1"
	DomainQuery   = "rangeplan/query/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PlanKey identifies a plan-cache entry: the namespace plus the query
// shape (see keyrange.QueryPattern), independent of the constants used.
func PlanKey(namespace, pattern string) (string, error) {
	obj := IRObject{
		"namespace": IRString(namespace),
		"pattern":   IRString(pattern),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PlanKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPlanKey, canonical), nil
}

// BoundsDigest fingerprints a list of [start, end] key pairs so traces and
// golden files can compare bounds without spelling them out.
func BoundsDigest(pairs [][2]IndexKey) (string, error) {
	arr := make(IRArray, len(pairs))
	for i, p := range pairs {
		arr[i] = IRArray{IRArray(p[0]), IRArray(p[1])}
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("BoundsDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBounds, canonical), nil
}

// QueryID computes a content-addressed ID for a query document in a
// namespace. Identical queries hash identically across runs.
func QueryID(namespace string, query IRObject) (string, error) {
	obj := IRObject{
		"namespace": IRString(namespace),
		"query":     query,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("QueryID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// MustPlanKey is like PlanKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPlanKey(namespace, pattern string) string {
	key, err := PlanKey(namespace, pattern)
	if err != nil {
		panic(err)
	}
	return key
}
