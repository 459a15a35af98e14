package rule

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxPatternLength caps regex pattern size. Go's regexp is linear-time in
// the input, but pathological pattern sizes still cost compile memory.
const maxPatternLength = 512

// predicate is the compiled form of a rule's conditions.
type predicate func(*Input) bool

// Compile validates the spec and compiles it into an immutable Rule.
// Synthesized rule text is untrusted input: anything that does not pass
// through here never reaches the enforcement path.
//
// prov and sourceIncident are defaults; a spec that already carries
// provenance metadata (one recovered from the store) keeps its own.
func (s Spec) Compile(prov Provenance, sourceIncident string) (*Rule, error) {
	spec := s.withDefaults()
	if spec.Provenance == "" {
		spec.Provenance = prov
	}
	if spec.SourceIncident == "" {
		spec.SourceIncident = sourceIncident
	}

	if len(spec.Match) == 0 {
		return nil, &CompileError{RuleID: spec.ID, Field: "match", Reason: "at least one condition is required"}
	}

	switch spec.Action {
	case ActionDeny, ActionLog, ActionAllowWithTag:
	default:
		return nil, &CompileError{RuleID: spec.ID, Field: "action", Reason: "unknown action " + string(spec.Action)}
	}

	switch spec.Phase {
	case PhaseRequestHeaders, PhaseRequestBody:
	default:
		return nil, &CompileError{RuleID: spec.ID, Field: "phase", Reason: "unknown phase " + string(spec.Phase)}
	}

	if spec.Action == ActionDeny && (spec.StatusCode < 400 || spec.StatusCode > 599) {
		return nil, &CompileError{RuleID: spec.ID, Field: "status_code", Reason: "deny status must be in 400..599"}
	}

	if spec.Action == ActionAllowWithTag && spec.Tag == "" {
		return nil, &CompileError{RuleID: spec.ID, Field: "tag", Reason: "allow-with-tag requires a tag"}
	}

	preds := make([]predicate, 0, len(spec.Match))
	for i := range spec.Match {
		m := spec.Match[i]

		if m.Target == TargetBody && spec.Phase != PhaseRequestBody {
			return nil, &CompileError{RuleID: spec.ID, Field: "match", Reason: "body condition requires phase request-body"}
		}

		p, err := compileMatch(spec.ID, m)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	return &Rule{
		ID:             spec.ID,
		Description:    spec.Description,
		Phase:          spec.Phase,
		Action:         spec.Action,
		StatusCode:     spec.StatusCode,
		Tag:            spec.Tag,
		BlockIP:        spec.BlockIP,
		Provenance:     spec.Provenance,
		CreatedAt:      time.Now().UTC(),
		SourceIncident: spec.SourceIncident,
		Spec:           spec,
		predicate:      allOf(preds),
	}, nil
}

// withDefaults fills in omitted spec fields.
func (s Spec) withDefaults() Spec {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Action == "" {
		s.Action = ActionDeny
	}
	if s.Phase == "" {
		s.Phase = PhaseRequestHeaders
		for _, m := range s.Match {
			if m.Target == TargetBody {
				s.Phase = PhaseRequestBody
			}
		}
	}
	if s.Action == ActionDeny && s.StatusCode == 0 {
		s.StatusCode = http.StatusForbidden
	}
	return s
}

// compileMatch compiles a single condition.
func compileMatch(ruleID string, m Match) (predicate, error) {
	if m.Value == "" {
		return nil, &CompileError{RuleID: ruleID, Field: "match.value", Reason: "value is required"}
	}

	extract, err := extractor(ruleID, m)
	if err != nil {
		return nil, err
	}

	if m.Operator == OperatorRegex {
		if len(m.Value) > maxPatternLength {
			return nil, &CompileError{RuleID: ruleID, Field: "match.value", Reason: "regex pattern too long"}
		}
		pattern := m.Value
		if !m.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &CompileError{RuleID: ruleID, Field: "match.value", Reason: "invalid regex: " + err.Error()}
		}
		return func(in *Input) bool {
			for _, v := range extract(in) {
				if re.MatchString(v) {
					return true
				}
			}
			return false
		}, nil
	}

	want := m.Value
	fold := !m.CaseSensitive
	if fold {
		want = strings.ToLower(want)
	}

	var cmp func(got string) bool
	switch m.Operator {
	case OperatorEquals:
		cmp = func(got string) bool { return got == want }
	case OperatorContains:
		cmp = func(got string) bool { return strings.Contains(got, want) }
	case OperatorPrefix:
		cmp = func(got string) bool { return strings.HasPrefix(got, want) }
	case OperatorSuffix:
		cmp = func(got string) bool { return strings.HasSuffix(got, want) }
	default:
		return nil, &CompileError{RuleID: ruleID, Field: "match.operator", Reason: "unknown operator " + string(m.Operator)}
	}

	return func(in *Input) bool {
		for _, v := range extract(in) {
			if fold {
				v = strings.ToLower(v)
			}
			if cmp(v) {
				return true
			}
		}
		return false
	}, nil
}

// extractor returns the function that pulls the condition's target values
// out of the input. Multi-valued targets (headers) yield every value; the
// condition matches if any value matches.
func extractor(ruleID string, m Match) (func(*Input) []string, error) {
	switch m.Target {
	case TargetMethod:
		return func(in *Input) []string { return []string{in.Method} }, nil
	case TargetPath:
		return func(in *Input) []string { return []string{in.Path} }, nil
	case TargetQuery:
		return func(in *Input) []string { return []string{in.RawQuery} }, nil
	case TargetClientIP:
		return func(in *Input) []string { return []string{in.ClientIP} }, nil
	case TargetBody:
		return func(in *Input) []string { return []string{string(in.Body)} }, nil
	case TargetHeader:
		if m.Header == "" {
			return nil, &CompileError{RuleID: ruleID, Field: "match.header", Reason: "header condition requires a header name"}
		}
		name := http.CanonicalHeaderKey(m.Header)
		return func(in *Input) []string {
			if in.Header == nil {
				return nil
			}
			return in.Header[name]
		}, nil
	default:
		return nil, &CompileError{RuleID: ruleID, Field: "match.target", Reason: "unknown target " + string(m.Target)}
	}
}

// allOf combines condition predicates with AND semantics.
func allOf(preds []predicate) predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	return func(in *Input) bool {
		for _, p := range preds {
			if !p(in) {
				return false
			}
		}
		return true
	}
}
