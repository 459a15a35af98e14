package rule

import (
	"net/http"
	"time"
)

// Action is what a matching rule does to the request.
type Action string

const (
	// ActionDeny blocks the request with the rule's status code.
	ActionDeny Action = "deny"

	// ActionLog records the match and lets evaluation continue.
	ActionLog Action = "log"

	// ActionAllowWithTag lets the request through but tags it so the
	// sampler treats it as suspicious.
	ActionAllowWithTag Action = "allow-with-tag"
)

// Phase is the ordering bucket a rule is evaluated in. Phases run in a
// fixed order: request-headers first, then request-body.
type Phase string

const (
	PhaseRequestHeaders Phase = "request-headers"
	PhaseRequestBody    Phase = "request-body"
)

// Phases lists all phases in evaluation order.
var Phases = []Phase{PhaseRequestHeaders, PhaseRequestBody}

// Provenance records where a rule came from.
type Provenance string

const (
	ProvenanceManual      Provenance = "manual"
	ProvenanceSynthesized Provenance = "synthesized"
)

// Target is the request field a match condition inspects.
type Target string

const (
	TargetMethod   Target = "method"
	TargetPath     Target = "path"
	TargetQuery    Target = "query"
	TargetHeader   Target = "header"
	TargetBody     Target = "body"
	TargetClientIP Target = "client_ip"
)

// Operator compares a target value against the condition value.
type Operator string

const (
	OperatorEquals   Operator = "equals"
	OperatorContains Operator = "contains"
	OperatorPrefix   Operator = "prefix"
	OperatorSuffix   Operator = "suffix"
	OperatorRegex    Operator = "regex"
)

// Match is a single condition. A rule matches a request only if all of its
// conditions match.
type Match struct {
	// Target is the request field to inspect.
	Target Target `yaml:"target"`

	// Header names the header to inspect when Target is "header".
	Header string `yaml:"header,omitempty"`

	// Operator is the comparison to apply.
	Operator Operator `yaml:"operator"`

	// Value is the comparison operand (a pattern for "regex").
	Value string `yaml:"value"`

	// CaseSensitive disables the default case-insensitive comparison.
	CaseSensitive bool `yaml:"case_sensitive,omitempty"`
}

// Spec is the serialized (YAML) form of a rule. Specs are what operators
// write and what the synthesizer asks the LLM to produce; they become Rules
// only through Compile.
type Spec struct {
	// ID is the stable rule identifier. Empty IDs are assigned at compile.
	ID string `yaml:"id,omitempty"`

	// Description is a human-readable summary of what the rule blocks.
	Description string `yaml:"description,omitempty"`

	// Phase is the evaluation phase. Defaults to request-headers unless a
	// condition targets the body.
	Phase Phase `yaml:"phase,omitempty"`

	// Action is what to do on match. Defaults to deny.
	Action Action `yaml:"action,omitempty"`

	// StatusCode is the HTTP status returned on deny. Defaults to 403.
	StatusCode int `yaml:"status_code,omitempty"`

	// Tag is the tag applied by allow-with-tag rules.
	Tag string `yaml:"tag,omitempty"`

	// BlockIP pushes the client address onto the IP blocklist on deny.
	BlockIP bool `yaml:"block_ip,omitempty"`

	// Provenance is lifecycle metadata; never set in operator-authored
	// files, stamped by the synthesizer and the store.
	Provenance Provenance `yaml:"provenance,omitempty"`

	// SourceIncident references the incident that produced a synthesized
	// rule.
	SourceIncident string `yaml:"source_incident,omitempty"`

	// Match lists the conditions; all must match.
	Match []Match `yaml:"match"`
}

// Rule is a compiled, immutable rule. Construct with Spec.Compile.
type Rule struct {
	// ID is stable across generations once the rule is created.
	ID string

	// Description is a human-readable summary.
	Description string

	// Phase is the evaluation phase.
	Phase Phase

	// Action is what the rule does on match.
	Action Action

	// StatusCode is the HTTP status returned when Action is deny.
	StatusCode int

	// Tag is the tag applied when Action is allow-with-tag.
	Tag string

	// BlockIP indicates the client address should be blocklisted on deny.
	BlockIP bool

	// Provenance records whether the rule was manual or synthesized.
	Provenance Provenance

	// CreatedAt is when the rule was compiled into existence.
	CreatedAt time.Time

	// SourceIncident references the incident cluster that produced a
	// synthesized rule. Empty for manual rules.
	SourceIncident string

	// Spec retains the serialized source for persistence and fingerprints.
	Spec Spec

	predicate predicate
}

// Input is the request view a rule evaluates against. It is assembled once
// per request by the enforcement pipeline and shared read-only.
type Input struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	ClientIP string
}

// Matches reports whether the rule's predicate holds for the input.
// It is side-effect free and safe for concurrent use.
func (r *Rule) Matches(in *Input) bool {
	return r.predicate(in)
}

// NewPredicateRule builds a rule around a raw predicate function, bypassing
// the spec compiler. Rules built this way carry no serializable spec and
// must not be persisted; they exist for tests and replay harnesses that
// need to inject arbitrary matcher behavior.
func NewPredicateRule(id string, phase Phase, action Action, statusCode int, fn func(*Input) bool) *Rule {
	return &Rule{
		ID:         id,
		Phase:      phase,
		Action:     action,
		StatusCode: statusCode,
		Provenance: ProvenanceManual,
		CreatedAt:  time.Now().UTC(),
		Spec:       Spec{ID: id, Phase: phase, Action: action, StatusCode: statusCode},
		predicate:  fn,
	}
}
