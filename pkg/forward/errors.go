package forward

import (
	"errors"
	"fmt"
)

// Phase identifies which timeout fired.
type Phase string

const (
	PhaseConnect Phase = "connect"
	PhaseRead    Phase = "read"
	PhaseTotal   Phase = "total"
)

// ErrPoolExhausted is returned when no pool slot frees up within the
// connect timeout.
var ErrPoolExhausted = errors.New("forward pool exhausted")

// TimeoutError reports which forwarding phase timed out.
type TimeoutError struct {
	Phase Phase
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("forward %s timeout: %v", e.Phase, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TimeoutError) Unwrap() error { return e.Cause }

// BodyTooLargeError is returned before dialing when the request body
// exceeds the configured maximum.
type BodyTooLargeError struct {
	Size  int64
	Limit int64
}

// Error implements the error interface.
func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("request body %d bytes exceeds limit %d", e.Size, e.Limit)
}

// BackendError wraps a non-timeout backend failure (connection refused,
// protocol error).
type BackendError struct {
	Cause error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend request failed: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *BackendError) Unwrap() error { return e.Cause }

// UpstreamRejectedError is returned when a per-request upstream override
// names a target outside the configured allowlist.
type UpstreamRejectedError struct {
	Target string
}

// Error implements the error interface.
func (e *UpstreamRejectedError) Error() string {
	return fmt.Sprintf("upstream target %q is not in the allowlist", e.Target)
}

// IsTimeout reports whether err is a phase timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsPoolExhausted reports whether err is a pool acquisition failure.
func IsPoolExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// IsBodyTooLarge reports whether err is a body-size rejection.
func IsBodyTooLarge(err error) bool {
	var be *BodyTooLargeError
	return errors.As(err, &be)
}
