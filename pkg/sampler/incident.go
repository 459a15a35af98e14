package sampler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Label classifies why an incident was sampled.
type Label string

const (
	// LabelBlocked marks a request denied by a rule.
	LabelBlocked Label = "blocked"

	// LabelSuspicious marks an allowed request tagged by a rule.
	LabelSuspicious Label = "suspicious"

	// LabelFalsePositive marks a deny later reported as wrong.
	LabelFalsePositive Label = "false-positive-reported"
)

// Observation is the pipeline's hand-off unit: a snapshot of a request
// together with the verdict that made it interesting.
type Observation struct {
	RequestID  string
	Method     string
	Path       string
	RawQuery   string
	Header     http.Header
	BodyPrefix []byte
	ClientIP   string
	RuleID     string
	Label      Label
	ObservedAt time.Time
}

// Incident is an admitted observation, embedded and deduplicated.
type Incident struct {
	ID string
	Observation

	// Vector is the embedding of Text(); empty when no embedder is
	// configured.
	Vector []float32

	// Repeats counts near-duplicate observations folded into this
	// incident.
	Repeats int
}

// Text renders the observation as the canonical string fed to the
// embedder and to synthesis prompts.
func (o *Observation) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", o.Method, o.Path)
	if o.RawQuery != "" {
		fmt.Fprintf(&b, "?%s", o.RawQuery)
	}
	fmt.Fprintf(&b, " label=%s", o.Label)
	if o.RuleID != "" {
		fmt.Fprintf(&b, " rule=%s", o.RuleID)
	}
	if ua := o.Header.Get("User-Agent"); ua != "" {
		fmt.Fprintf(&b, " ua=%q", ua)
	}
	if len(o.BodyPrefix) > 0 {
		fmt.Fprintf(&b, " body=%q", o.BodyPrefix)
	}
	return b.String()
}
