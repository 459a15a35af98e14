package synth

import (
	"errors"
	"fmt"
)

// ErrNoCandidates means synthesis produced no usable rules: either no
// incidents were offered or every drafted rule failed to compile.
var ErrNoCandidates = errors.New("synth: no usable candidate rules")

// SynthesisError reports a failed synthesis cycle stage.
type SynthesisError struct {
	// Stage is the cycle stage that failed (embed, generate, decode).
	Stage string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synth: %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *SynthesisError) Unwrap() error { return e.Cause }
