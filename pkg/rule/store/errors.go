package store

import (
	"errors"
	"fmt"
)

// ErrNotVerified is returned by Publish for candidates that have not passed
// the verification gate.
var ErrNotVerified = errors.New("candidate generation is not verified")

// StaleGenerationError is returned by Publish when the candidate's base
// generation is no longer live (another publish won the race).
type StaleGenerationError struct {
	// Base is the candidate's recorded base generation.
	Base uint64

	// Live is the generation currently live.
	Live uint64
}

// Error implements the error interface.
func (e *StaleGenerationError) Error() string {
	return fmt.Sprintf("stale candidate: base generation %d, live generation %d", e.Base, e.Live)
}

// NotFoundError is returned by Rollback for unknown generations.
type NotFoundError struct {
	Generation uint64
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("generation %d not found in history", e.Generation)
}

// StorageError wraps a persistence failure.
type StorageError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("rule store %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error { return e.Cause }
