package pipeline

import "fmt"

// ParseError marks a request that could not be captured for inspection.
// Parse failures deny with a fixed 400 without consulting the matcher.
type ParseError struct {
	// Reason is a short operator-facing explanation. It is logged, never
	// echoed to the client.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pipeline: parse: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("pipeline: parse: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error { return e.Cause }
