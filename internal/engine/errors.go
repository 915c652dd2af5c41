package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while the engine maintains a
// collection or runs a query.
//
// Runtime errors include:
//   - Quota exceeded: a run examined more keys than allowed
//   - Unknown namespace or index: a query or hint names nothing declared
//   - Duplicate index or document: a declaration conflicts with an earlier one
//   - Invalid document: a document cannot be indexed (parallel arrays)
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Namespace identifies the affected collection.
	Namespace string

	// Index names the affected index, if any.
	Index string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQuotaExceeded indicates a run examined too many keys.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeUnknownNamespace indicates a query against an undeclared namespace.
	ErrCodeUnknownNamespace RuntimeErrorCode = "UNKNOWN_NAMESPACE"

	// ErrCodeUnknownIndex indicates a hint naming no index.
	ErrCodeUnknownIndex RuntimeErrorCode = "UNKNOWN_INDEX"

	// ErrCodeInvalidIndex indicates an index spec that cannot be built.
	ErrCodeInvalidIndex RuntimeErrorCode = "INVALID_INDEX"

	// ErrCodeDuplicateIndex indicates an index name reused with another pattern.
	ErrCodeDuplicateIndex RuntimeErrorCode = "DUPLICATE_INDEX"

	// ErrCodeDuplicateID indicates a second document with the same _id.
	ErrCodeDuplicateID RuntimeErrorCode = "DUPLICATE_ID"

	// ErrCodeInvalidDocument indicates a document that cannot be indexed.
	ErrCodeInvalidDocument RuntimeErrorCode = "INVALID_DOCUMENT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Namespace != "" && e.Index != "" {
		return fmt.Sprintf("%s: %s (ns=%s, index=%s)", e.Code, msg, e.Namespace, e.Index)
	}
	if e.Namespace != "" {
		return fmt.Sprintf("%s: %s (ns=%s)", e.Code, msg, e.Namespace)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and KeysExceededError.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	if hasCode(err, ErrCodeQuotaExceeded) {
		return true
	}
	var ke *KeysExceededError
	return errors.As(err, &ke)
}

// IsUnknownNamespace reports a query against an undeclared namespace.
func IsUnknownNamespace(err error) bool { return hasCode(err, ErrCodeUnknownNamespace) }

// IsUnknownIndex reports a hint naming no index.
func IsUnknownIndex(err error) bool { return hasCode(err, ErrCodeUnknownIndex) }

// IsDuplicateID reports an insert whose _id is already taken.
func IsDuplicateID(err error) bool { return hasCode(err, ErrCodeDuplicateID) }

// NewQuotaError creates a RuntimeError for quota exceeded, wrapping the
// KeysExceededError that stopped the scan.
func NewQuotaError(ns string, keys, maxKeys int64, cause error) *RuntimeError {
	return &RuntimeError{
		Err:       cause,
		Code:      ErrCodeQuotaExceeded,
		Message:   fmt.Sprintf("run exceeded max keys examined (%d > %d)", keys, maxKeys),
		Namespace: ns,
		Details: map[string]string{
			"keys":     fmt.Sprintf("%d", keys),
			"max_keys": fmt.Sprintf("%d", maxKeys),
		},
	}
}

// NewUnknownNamespaceError creates a RuntimeError for a missing namespace.
func NewUnknownNamespaceError(ns string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeUnknownNamespace,
		Message:   "namespace has no documents or indexes",
		Namespace: ns,
	}
}

// NewUnknownIndexError creates a RuntimeError for a hint naming no index.
func NewUnknownIndexError(ns, name string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeUnknownIndex,
		Message:   "no index with this name",
		Namespace: ns,
		Index:     name,
	}
}

// NewDuplicateIndexError creates a RuntimeError for a conflicting index name.
func NewDuplicateIndexError(ns, name string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeDuplicateIndex,
		Message:   "index name already used with another key pattern",
		Namespace: ns,
		Index:     name,
	}
}

// NewDuplicateIDError creates a RuntimeError for a reused document id.
func NewDuplicateIDError(ns, id string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeDuplicateID,
		Message:   fmt.Sprintf("duplicate _id %q", id),
		Namespace: ns,
		Details:   map[string]string{"id": id},
	}
}

// NewInvalidDocumentError creates a RuntimeError for an unindexable document.
func NewInvalidDocumentError(ns, id string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeInvalidDocument,
		Message:   fmt.Sprintf("cannot index document %q", id),
		Namespace: ns,
		Details:   map[string]string{"id": id},
		Err:       cause,
	}
}
