package engine

import (
	"errors"
	"fmt"
)

// DerivationError reports a failure while recomputing derived values
// after a record already passed validation. It is a system error, not a
// data-quality problem: the write is not committed and the caller must
// surface it as a failure, never as a rejection.
type DerivationError struct {
	Entity    string
	Attribute string // derived target being recomputed
	Partition string // rendered partition key
	Err       error
}

// Error implements the error interface.
func (e *DerivationError) Error() string {
	return fmt.Sprintf("derive %s.%s for partition %s: %v", e.Entity, e.Attribute, e.Partition, e.Err)
}

// Unwrap exposes the underlying cause for errors.As chains.
func (e *DerivationError) Unwrap() error {
	return e.Err
}

// IsDerivationError reports whether err is a derivation failure.
// Uses errors.As to handle wrapped errors.
func IsDerivationError(err error) bool {
	var de *DerivationError
	return errors.As(err, &de)
}
