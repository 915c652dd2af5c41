package keyrange

import (
	"errors"
	"fmt"
)

// ErrInvariant is wrapped by every AssertionError so callers can test for
// the whole class with errors.Is.
var ErrInvariant = errors.New("range invariant violated")

// ErrCombinatorialLimit is returned when expanding per-field intervals into
// composite bounds would exceed the configured ceiling.
var ErrCombinatorialLimit = errors.New("combinatorial limit of $in partitioning of result set exceeded")

// AssertionError reports a broken internal invariant or a caller violating
// a documented precondition. It aborts plan construction for the query;
// the process keeps running.
type AssertionError struct {
	// Op names the operation that detected the violation.
	Op      string
	Message string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvariant) match.
func (e *AssertionError) Unwrap() error {
	return ErrInvariant
}

// IsAssertion returns true if err is, or wraps, an AssertionError.
func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}

// assertf panics with an AssertionError. Exported entry points convert the
// panic back into an error with recoverAssertion.
func assertf(op, format string, args ...any) {
	panic(&AssertionError{Op: op, Message: fmt.Sprintf(format, args...)})
}

// recoverAssertion turns an AssertionError panic into *errp. Other panics
// propagate unchanged.
func recoverAssertion(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if ae, ok := r.(*AssertionError); ok {
		*errp = ae
		return
	}
	panic(r)
}
