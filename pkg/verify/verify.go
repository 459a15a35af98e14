// Package verify gates candidate rule generations by replaying labeled
// traffic before anything reaches the live path.
package verify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden-hq/warden/pkg/engine"
	"warden-hq/warden/pkg/rule"
)

// Corpus is the labeled replay traffic: known-bad requests the rules
// should deny and held-out known-good requests they must not.
type Corpus struct {
	KnownBad  []rule.Input
	KnownGood []rule.Input
}

// Config contains verifier configuration.
type Config struct {
	// FPThreshold is the maximum tolerated false-positive rate.
	// Default: 0.01.
	FPThreshold float64

	// RuleBudget bounds each rule evaluation during replay.
	RuleBudget time.Duration
}

// DefaultConfig returns the default verifier configuration.
func DefaultConfig() *Config {
	return &Config{FPThreshold: 0.01}
}

// Verifier replays corpora through the matcher to score candidates.
type Verifier struct {
	cfg    *Config
	logger *slog.Logger
}

// New creates a verifier.
func New(cfg *Config, logger *slog.Logger) *Verifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FPThreshold <= 0 {
		cfg.FPThreshold = DefaultConfig().FPThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{cfg: cfg, logger: logger.With("component", "verify")}
}

// Verify replays the corpus through the candidate and the live
// generation and scores both.
//
// The candidate passes when its false-positive rate is at or under the
// threshold and its false-negative rate does not regress against the
// live baseline. Rules that panic or run over budget during replay are
// excluded and the pruned candidate is scored once more; if exclusion
// empties the candidate the verdict is a failure, never an empty
// publish. On a pass the returned generation is the effective (possibly
// pruned) candidate marked verified; on a failure it is nil.
func (v *Verifier) Verify(ctx context.Context, candidate, live *rule.RuleSet, corpus *Corpus) (*Report, *rule.RuleSet, error) {
	report := &Report{
		ID:             uuid.NewString(),
		CandidateID:    candidate.ID,
		BaseGeneration: candidate.BaseGeneration,
		KnownGood:      len(corpus.KnownGood),
		KnownBad:       len(corpus.KnownBad),
		EvaluatedAt:    time.Now(),
	}

	if len(corpus.KnownBad) == 0 && len(corpus.KnownGood) == 0 {
		report.Reason = ReasonEmptyCorpus
		return report, nil, nil
	}

	effective := candidate.WithStatus(rule.StatusVerifying)

	score, faulty := v.replay(ctx, effective, corpus)
	if len(faulty) > 0 {
		report.ExcludedRuleIDs = sortedIDs(faulty)
		v.logger.Warn("excluding faulty rules from candidate",
			"candidate_id", candidate.ID,
			"rule_ids", report.ExcludedRuleIDs,
		)
		effective = effective.WithoutRules(faulty)
		if effective.Len() == 0 {
			report.Reason = ReasonEmptyAfterExclusion
			return report, nil, nil
		}
		// One re-score with the pruned set; further faults fail hard
		// through the scores rather than looping.
		score, _ = v.replay(ctx, effective, corpus)
	}
	report.FPRate = score.fpRate
	report.FNRate = score.fnRate

	baseline, _ := v.replay(ctx, live, corpus)
	report.BaselineFNRate = baseline.fnRate

	switch {
	case report.FPRate > v.cfg.FPThreshold:
		report.Reason = ReasonFalsePositives
	case report.FNRate > report.BaselineFNRate:
		report.Reason = ReasonRegression
	default:
		report.Passed = true
	}

	if !report.Passed {
		return report, nil, nil
	}
	return report, effective.WithStatus(rule.StatusVerified), nil
}

type score struct {
	fpRate float64
	fnRate float64
}

// replay runs both corpora through one generation, collecting rules
// that fault along the way.
func (v *Verifier) replay(ctx context.Context, rs *rule.RuleSet, corpus *Corpus) (score, map[string]bool) {
	var mu sync.Mutex
	faulty := make(map[string]bool)
	noteFault := func(ruleID string) {
		mu.Lock()
		faulty[ruleID] = true
		mu.Unlock()
	}

	eng := engine.New(&engine.Config{
		RuleBudget:   v.cfg.RuleBudget,
		OnOverBudget: noteFault,
		OnPanic:      noteFault,
	}, v.logger)

	var s score
	if n := len(corpus.KnownGood); n > 0 {
		denied := 0
		for i := range corpus.KnownGood {
			if !eng.Evaluate(ctx, &corpus.KnownGood[i], rs).Allowed {
				denied++
			}
		}
		s.fpRate = float64(denied) / float64(n)
	}
	if n := len(corpus.KnownBad); n > 0 {
		allowed := 0
		for i := range corpus.KnownBad {
			if eng.Evaluate(ctx, &corpus.KnownBad[i], rs).Allowed {
				allowed++
			}
		}
		s.fnRate = float64(allowed) / float64(n)
	}
	return s, faulty
}

func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
