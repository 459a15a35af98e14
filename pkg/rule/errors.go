package rule

import "fmt"

// CompileError reports why a spec could not be compiled into a rule.
type CompileError struct {
	// RuleID is the spec's id, if it had one.
	RuleID string

	// Field is the spec field that failed validation.
	Field string

	// Reason explains the failure.
	Reason string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("rule %q: invalid %s: %s", e.RuleID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DecodeError reports a malformed rule document.
type DecodeError struct {
	// Source identifies the document (file path or "synthesized").
	Source string

	// Cause is the underlying YAML error.
	Cause error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode rules from %s: %v", e.Source, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Cause }
