package engine

// Verdict is the outcome of evaluating a request against a generation.
// Exactly one verdict is produced per request and it is never mutated.
type Verdict struct {
	// Allowed is true when no deny rule matched.
	Allowed bool

	// RuleID identifies the deny rule that matched (empty on allow).
	RuleID string

	// Reason is a short operator-facing explanation.
	Reason string

	// StatusCode is the HTTP status to return on deny.
	StatusCode int

	// BlockIP indicates the matching rule requested client blocklisting.
	BlockIP bool

	// Tags holds tags applied by allow-with-tag rules along the way.
	// A tagged allow is treated as anomalous by the sampler.
	Tags []string

	// Generation is the rule generation the verdict was produced against.
	Generation uint64
}

// Allow builds an allow verdict.
func Allow(generation uint64, tags []string) Verdict {
	return Verdict{Allowed: true, Tags: tags, Generation: generation}
}

// Deny builds a deny verdict for the given rule.
func Deny(generation uint64, ruleID, reason string, statusCode int, blockIP bool, tags []string) Verdict {
	return Verdict{
		RuleID:     ruleID,
		Reason:     reason,
		StatusCode: statusCode,
		BlockIP:    blockIP,
		Tags:       tags,
		Generation: generation,
	}
}

// Suspicious reports whether an allowed request was flagged on the way
// through (allow-with-tag matches).
func (v Verdict) Suspicious() bool {
	return v.Allowed && len(v.Tags) > 0
}
