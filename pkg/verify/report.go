package verify

import "time"

// Failure reasons recorded on a Report.
const (
	// ReasonFalsePositives means the candidate denied too much
	// known-good traffic.
	ReasonFalsePositives = "false-positive rate above threshold"

	// ReasonRegression means the candidate misses more known-bad
	// traffic than the live generation does.
	ReasonRegression = "false-negative rate worse than live baseline"

	// ReasonEmptyAfterExclusion means excluding faulty rules left
	// nothing to publish.
	ReasonEmptyAfterExclusion = "no rules left after fault exclusion"

	// ReasonEmptyCorpus means there was no labeled traffic to replay
	// against.
	ReasonEmptyCorpus = "empty replay corpus"
)

// Report is the immutable outcome of verifying one candidate generation.
type Report struct {
	// ID uniquely identifies the report.
	ID string

	// CandidateID is the verified generation's ID.
	CandidateID string

	// BaseGeneration is the candidate's base generation.
	BaseGeneration uint64

	// FPRate is the fraction of known-good requests the candidate
	// denied.
	FPRate float64

	// FNRate is the fraction of known-bad requests the candidate
	// allowed.
	FNRate float64

	// BaselineFNRate is the live generation's FN rate on the same
	// corpus.
	BaselineFNRate float64

	// KnownGood and KnownBad are the corpus sizes replayed.
	KnownGood int
	KnownBad  int

	// ExcludedRuleIDs lists rules removed for panicking or running over
	// budget during replay.
	ExcludedRuleIDs []string

	// Passed reports whether the candidate may be published.
	Passed bool

	// Reason explains a failure; empty when Passed.
	Reason string

	// EvaluatedAt is when the replay finished.
	EvaluatedAt time.Time
}
