package rule

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Status is the lifecycle state of a rule generation.
type Status string

const (
	// StatusDraft is a freshly synthesized, unverified generation.
	StatusDraft Status = "draft"

	// StatusVerifying is a draft claimed by the verifier.
	StatusVerifying Status = "verifying"

	// StatusVerified passed the verification gate and may be published.
	StatusVerified Status = "verified"

	// StatusLive is the single generation the matcher reads.
	StatusLive Status = "live"

	// StatusRetired was live and is retained for rollback.
	StatusRetired Status = "retired"
)

// RuleSet is one immutable rule generation. Readers share generations by
// reference; all mutation happens by constructing a successor generation.
type RuleSet struct {
	// ID uniquely identifies this generation across restarts.
	ID string

	// Generation is the monotonically increasing generation number.
	// Zero until the store publishes the set.
	Generation uint64

	// BaseGeneration is the live generation the set was derived from,
	// used for the optimistic-concurrency check at publish time.
	BaseGeneration uint64

	// Status is the lifecycle state.
	Status Status

	// Rules holds all rules in creation order.
	Rules []*Rule

	// Fingerprint is a content hash over the rule specs.
	Fingerprint string

	// CreatedAt is when the generation was assembled.
	CreatedAt time.Time

	// PromotedAt is when the generation became live; nil until published.
	PromotedAt *time.Time

	byPhase map[Phase][]*Rule
}

// NewRuleSet assembles a generation from compiled rules. Rules keep their
// creation order within each phase.
func NewRuleSet(status Status, baseGeneration uint64, rules []*Rule) *RuleSet {
	rs := &RuleSet{
		ID:             uuid.NewString(),
		BaseGeneration: baseGeneration,
		Status:         status,
		Rules:          rules,
		Fingerprint:    fingerprint(rules),
		CreatedAt:      time.Now().UTC(),
		byPhase:        groupByPhase(rules),
	}
	return rs
}

// NewDraft assembles a draft generation, the synthesizer's output form.
func NewDraft(baseGeneration uint64, rules []*Rule) *RuleSet {
	return NewRuleSet(StatusDraft, baseGeneration, rules)
}

// ByPhase returns the generation's rules for one phase, in creation order.
func (rs *RuleSet) ByPhase(p Phase) []*Rule {
	if rs.byPhase == nil {
		return nil
	}
	return rs.byPhase[p]
}

// Len returns the number of rules in the generation.
func (rs *RuleSet) Len() int { return len(rs.Rules) }

// Specs returns the serialized form of every rule, in creation order.
func (rs *RuleSet) Specs() []Spec {
	specs := make([]Spec, len(rs.Rules))
	for i, r := range rs.Rules {
		specs[i] = r.Spec
	}
	return specs
}

// WithStatus returns a copy of the generation in the given status.
// The rule slice is shared; rules themselves are immutable.
func (rs *RuleSet) WithStatus(status Status) *RuleSet {
	clone := *rs
	clone.Status = status
	return &clone
}

// WithoutRules returns a new generation with the given rule ids removed,
// preserving id, base generation and status. Used by the verifier to
// exclude faulting rules before re-scoring.
func (rs *RuleSet) WithoutRules(ids map[string]bool) *RuleSet {
	kept := make([]*Rule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		if !ids[r.ID] {
			kept = append(kept, r)
		}
	}
	clone := *rs
	clone.Rules = kept
	clone.Fingerprint = fingerprint(kept)
	clone.byPhase = groupByPhase(kept)
	return &clone
}

// groupByPhase buckets rules by phase, preserving creation order.
func groupByPhase(rules []*Rule) map[Phase][]*Rule {
	m := make(map[Phase][]*Rule, len(Phases))
	for _, r := range rules {
		m[r.Phase] = append(m[r.Phase], r)
	}
	return m
}

// fingerprint hashes the canonical serialized rules. Two generations with
// identical rules in identical order share a fingerprint.
func fingerprint(rules []*Rule) string {
	h := sha256.New()
	for _, r := range rules {
		// Marshal errors are impossible for Spec (plain scalars and
		// slices); fall back to the id alone if one ever occurs.
		b, err := yaml.Marshal(r.Spec)
		if err != nil {
			b = []byte(r.ID)
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}
