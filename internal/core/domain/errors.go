package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrExtraction marks an unreadable or empty source document. Fatal for
	// the item, never for the batch.
	ErrExtraction = errors.New("extraction failed")
	// ErrValidation marks classifier output that violates the stored-record
	// invariants; recovered via DeclinedFallback.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable marks a content store failure. Fatal at
	// initialization, logged-and-degraded for individual calls.
	ErrStoreUnavailable = errors.New("content store unavailable")
	// ErrSynthesisTimeout marks a suggestion call that exceeded its deadline.
	ErrSynthesisTimeout = errors.New("synthesis timed out")
	// ErrTemporary marks transient upstream failures worth retrying.
	ErrTemporary    = errors.New("temporary failure")
	ErrInvalidInput = errors.New("invalid input")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
