package mutation

import (
	"errors"
	"fmt"
)

// ErrMutationFailed matches every *Error
var ErrMutationFailed = errors.New("mutation failed")

// Error is returned when a write RPC fails. The cache has already been rolled
// back when it is returned.
type Error struct {
	// ID identifies the mutation in logs and traces
	ID string

	// Mutation is the mutation name
	Mutation string

	// RolledBack is the number of cache entries restored from the snapshot
	RolledBack int

	// Reconciled is set when the affected prefixes were also invalidated
	// because an overlapping mutation was involved
	Reconciled bool

	// Err is the underlying RPC error
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mutation %s failed: %v", e.Mutation, e.Err)
}

// Unwrap exposes both ErrMutationFailed and the RPC error to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	return []error{ErrMutationFailed, e.Err}
}
