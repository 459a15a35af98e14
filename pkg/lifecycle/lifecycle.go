// Package lifecycle drives the sample → synthesize → verify → publish
// cycle on a schedule.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"warden-hq/warden/pkg/rule"
	"warden-hq/warden/pkg/rule/store"
	"warden-hq/warden/pkg/sampler"
	"warden-hq/warden/pkg/synth"
	"warden-hq/warden/pkg/verify"
)

// Cycle outcomes, used as the metrics label and logged per run.
const (
	OutcomePublished          = "published"
	OutcomeNoIncidents        = "no_incidents"
	OutcomeSynthesisFailed    = "synthesis_failed"
	OutcomeVerificationFailed = "verification_failed"
	OutcomePublishFailed      = "publish_failed"
	OutcomeCoalesced          = "coalesced"
)

// Config contains lifecycle configuration.
type Config struct {
	// IncidentWindow is how far back RecentIncidents reaches.
	// Default: 1h.
	IncidentWindow time.Duration

	// CycleTimeout bounds one full cycle. Default: 5m.
	CycleTimeout time.Duration
}

// DefaultConfig returns the default lifecycle configuration.
func DefaultConfig() *Config {
	return &Config{
		IncidentWindow: time.Hour,
		CycleTimeout:   5 * time.Minute,
	}
}

// Incidents supplies the sampled incident window.
type Incidents interface {
	RecentIncidents(window time.Duration) []sampler.Incident
}

// Synthesizer drafts candidate generations.
type Synthesizer interface {
	Synthesize(ctx context.Context, incidents []sampler.Incident) (*rule.RuleSet, error)
}

// Verifier gates candidates by corpus replay.
type Verifier interface {
	Verify(ctx context.Context, candidate, live *rule.RuleSet, corpus *verify.Corpus) (*verify.Report, *rule.RuleSet, error)
}

// Publisher is the rule store surface the coordinator uses.
type Publisher interface {
	Current() *rule.RuleSet
	Publish(candidate *rule.RuleSet) error
	SaveReport(rec *store.ReportRecord) error
}

// CorpusSource assembles the labeled replay corpus.
type CorpusSource func(ctx context.Context) (*verify.Corpus, error)

// Coordinator runs the rule lifecycle. Cycles are single-flight: a
// trigger while one runs is coalesced into a no-op, and every failure
// path leaves the live generation untouched.
type Coordinator struct {
	cfg     *Config
	window  Incidents
	synth   Synthesizer
	verify  Verifier
	store   Publisher
	corpus  CorpusSource
	logger  *slog.Logger
	onCycle func(outcome string)

	running atomic.Bool
}

// NewCoordinator wires the cycle. onCycle may be nil.
func NewCoordinator(cfg *Config, window Incidents, s Synthesizer, v Verifier, p Publisher, corpus CorpusSource, onCycle func(outcome string), logger *slog.Logger) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.IncidentWindow <= 0 {
		cfg.IncidentWindow = def.IncidentWindow
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = def.CycleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		window:  window,
		synth:   s,
		verify:  v,
		store:   p,
		corpus:  corpus,
		logger:  logger.With("component", "lifecycle"),
		onCycle: onCycle,
	}
}

// TriggerNow runs one cycle unless one is already running, in which case
// the trigger is coalesced and OutcomeCoalesced is returned immediately.
func (c *Coordinator) TriggerNow(ctx context.Context) string {
	if !c.running.CompareAndSwap(false, true) {
		c.note(OutcomeCoalesced)
		return OutcomeCoalesced
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CycleTimeout)
	defer cancel()

	outcome := c.runCycle(ctx)
	c.note(outcome)
	return outcome
}

// runCycle executes sample → synthesize → verify → publish once.
func (c *Coordinator) runCycle(ctx context.Context) string {
	start := time.Now()

	incidents := c.window.RecentIncidents(c.cfg.IncidentWindow)
	if len(incidents) == 0 {
		c.logger.Info("cycle skipped, no incidents in window")
		return OutcomeNoIncidents
	}

	candidate, err := c.synth.Synthesize(ctx, incidents)
	if err != nil {
		if errors.Is(err, synth.ErrNoCandidates) {
			c.logger.Info("cycle produced no candidates", "incidents", len(incidents))
		} else {
			c.logger.Error("synthesis failed", "error", err)
		}
		return OutcomeSynthesisFailed
	}

	corpus, err := c.corpus(ctx)
	if err != nil {
		c.logger.Error("corpus assembly failed", "error", err)
		return OutcomeVerificationFailed
	}

	report, effective, err := c.verify.Verify(ctx, candidate, c.store.Current(), corpus)
	if err != nil {
		c.logger.Error("verification failed", "error", err)
		return OutcomeVerificationFailed
	}
	if rerr := c.store.SaveReport(reportRecord(report)); rerr != nil {
		c.logger.Error("report persistence failed", "report_id", report.ID, "error", rerr)
	}
	if !report.Passed {
		c.logger.Warn("candidate rejected",
			"candidate_id", report.CandidateID,
			"reason", report.Reason,
			"fp_rate", report.FPRate,
			"fn_rate", report.FNRate,
			"baseline_fn_rate", report.BaselineFNRate,
		)
		return OutcomeVerificationFailed
	}

	if err := c.store.Publish(effective); err != nil {
		c.logger.Error("publish failed", "candidate_id", effective.ID, "error", err)
		return OutcomePublishFailed
	}

	c.logger.Info("candidate published",
		"generation", c.store.Current().Generation,
		"rules", effective.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return OutcomePublished
}

func (c *Coordinator) note(outcome string) {
	if c.onCycle != nil {
		c.onCycle(outcome)
	}
}

// reportRecord maps a verification report onto its persisted form.
func reportRecord(r *verify.Report) *store.ReportRecord {
	return &store.ReportRecord{
		ID:                r.ID,
		CandidateID:       r.CandidateID,
		BaseGeneration:    r.BaseGeneration,
		FalsePositiveRate: r.FPRate,
		FalseNegativeRate: r.FNRate,
		BaselineFNRate:    r.BaselineFNRate,
		ExcludedRuleIDs:   r.ExcludedRuleIDs,
		Pass:              r.Passed,
		Reason:            r.Reason,
		EvaluatedAt:       r.EvaluatedAt,
	}
}
