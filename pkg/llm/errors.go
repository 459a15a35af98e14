package llm

import "fmt"

// ProviderError reports a failed provider call with the upstream status.
type ProviderError struct {
	// Endpoint is the provider path that failed.
	Endpoint string

	// StatusCode is the upstream HTTP status, zero for transport errors.
	StatusCode int

	// Message is the provider's error text, if any.
	Message string

	// Cause is the underlying transport error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm: %s: %v", e.Endpoint, e.Cause)
	}
	return fmt.Sprintf("llm: %s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the call may succeed if repeated.
func (e *ProviderError) Retryable() bool {
	return e.Cause != nil || e.StatusCode == 429 || e.StatusCode >= 500
}

// EmptyResponseError reports a well-formed provider reply with no usable
// content.
type EmptyResponseError struct {
	Endpoint string
}

// Error implements the error interface.
func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("llm: %s: provider returned no content", e.Endpoint)
}
