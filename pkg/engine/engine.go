package engine

import (
	"context"
	"log/slog"
	"time"

	"warden-hq/warden/pkg/rule"
)

// Config contains matcher engine configuration.
type Config struct {
	// RuleBudget is the per-rule evaluation budget. A rule exceeding it
	// is skipped for the request and reported via OnOverBudget.
	// Default: 5ms.
	RuleBudget time.Duration

	// OnOverBudget is invoked with the rule id whenever a rule blows its
	// budget. Wired to a metrics counter so repeated timeouts on the
	// same rule surface as an operational alert.
	OnOverBudget func(ruleID string)

	// OnPanic is invoked with the rule id when a rule panics during
	// evaluation. The rule is skipped for the request.
	OnPanic func(ruleID string)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{RuleBudget: 5 * time.Millisecond}
}

// Engine evaluates requests against rule generations. It holds no rule
// state of its own and is safe for unbounded concurrent use.
type Engine struct {
	budget       time.Duration
	onOverBudget func(ruleID string)
	onPanic      func(ruleID string)
	logger       *slog.Logger
}

// New creates a matcher engine.
func New(cfg *Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	budget := cfg.RuleBudget
	if budget <= 0 {
		budget = DefaultConfig().RuleBudget
	}
	return &Engine{
		budget:       budget,
		onOverBudget: cfg.OnOverBudget,
		onPanic:      cfg.OnPanic,
		logger:       logger.With("component", "engine"),
	}
}

// Evaluate runs the generation's rules against the input and returns the
// verdict. The first matching deny short-circuits; log rules record and
// continue; allow-with-tag rules tag and continue. With no match the
// verdict is Allow.
//
// Evaluation is side-effect free with respect to the input and the
// generation; both may be shared across any number of concurrent calls.
func (e *Engine) Evaluate(ctx context.Context, in *rule.Input, rs *rule.RuleSet) Verdict {
	var tags []string

	for _, phase := range rule.Phases {
		for _, r := range rs.ByPhase(phase) {
			select {
			case <-ctx.Done():
				// The client has gone away; an allow here is moot and a
				// deny would never be written. Stop inspecting.
				return Allow(rs.Generation, tags)
			default:
			}

			matched, ok := e.evalRule(r, in)
			if !ok {
				continue
			}
			if !matched {
				continue
			}

			switch r.Action {
			case rule.ActionDeny:
				return Deny(rs.Generation, r.ID, r.Description, r.StatusCode, r.BlockIP, tags)
			case rule.ActionLog:
				e.logger.Info("rule matched",
					"rule_id", r.ID,
					"action", "log",
					"path", in.Path,
					"client_ip", in.ClientIP,
				)
			case rule.ActionAllowWithTag:
				tags = append(tags, r.Tag)
			}
		}
	}

	return Allow(rs.Generation, tags)
}

// evalRule runs one rule with panic isolation and budget accounting.
// ok is false when the rule's result must be discarded.
func (e *Engine) evalRule(r *rule.Rule, in *rule.Input) (matched, ok bool) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			matched, ok = false, false
			e.logger.Error("rule panicked during evaluation",
				"rule_id", r.ID,
				"panic", rec,
			)
			if e.onPanic != nil {
				e.onPanic(r.ID)
			}
		}
	}()

	matched = r.Matches(in)

	// Pattern evaluation is linear-time (RE2 semantics), so a budget
	// overrun means the rule is pathologically broad for this traffic,
	// not that it can hang. The result is discarded to keep verdicts
	// independent of scheduling luck, and the overrun is surfaced.
	if elapsed := time.Since(start); elapsed > e.budget {
		e.logger.Warn("rule exceeded evaluation budget",
			"rule_id", r.ID,
			"elapsed", elapsed,
			"budget", e.budget,
		)
		if e.onOverBudget != nil {
			e.onOverBudget(r.ID)
		}
		return false, false
	}

	return matched, true
}
