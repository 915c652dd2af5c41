package engine

import (
	"errors"
	"fmt"
)

// ScanQuota tracks the index keys and documents one run examines and
// enforces a maximum.
//
// Each run has its own ScanQuota. Every key a scan visits counts, whether
// it matched, was skipped over by a seek hint's landing, or ended the scan.
// A collection scan counts each document.
//
// A max of 0 disables the limit.
type ScanQuota struct {
	maxKeys int64
	current int64
}

// NewScanQuota creates a quota with the given limit.
func NewScanQuota(maxKeys int64) *ScanQuota {
	return &ScanQuota{maxKeys: maxKeys}
}

// Check increments the key counter and validates against the limit.
//
// Returns KeysExceededError if the quota is exceeded.
func (q *ScanQuota) Check(index string) error {
	q.current++
	if q.maxKeys > 0 && q.current > q.maxKeys {
		return &KeysExceededError{
			Index: index,
			Keys:  q.current,
			Limit: q.maxKeys,
		}
	}
	return nil
}

// Reset resets the key counter to 0.
func (q *ScanQuota) Reset() {
	q.current = 0
}

// Current returns the number of keys examined so far.
func (q *ScanQuota) Current() int64 {
	return q.current
}

// MaxKeys returns the limit.
func (q *ScanQuota) MaxKeys() int64 {
	return q.maxKeys
}

// KeysExceededError is returned when a run examines more keys than its
// quota allows. The run is abandoned; no partial result is returned.
type KeysExceededError struct {
	Index string // The index being scanned, "$natural" for a collection scan
	Keys  int64  // Number of keys examined
	Limit int64  // Maximum allowed keys
}

// Error implements the error interface.
func (e *KeysExceededError) Error() string {
	return fmt.Sprintf("scan of %s exceeded max keys quota: %d keys > %d limit",
		e.Index, e.Keys, e.Limit)
}

// IsKeysExceededError returns true if the error is a KeysExceededError.
// Uses errors.As to handle wrapped errors.
func IsKeysExceededError(err error) bool {
	var ke *KeysExceededError
	return errors.As(err, &ke)
}
