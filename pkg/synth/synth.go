// Package synth drafts candidate rule generations from sampled
// incidents with a generation capability.
package synth

import (
	"context"
	"log/slog"
	"strings"

	"warden-hq/warden/pkg/llm"
	"warden-hq/warden/pkg/rule"
	"warden-hq/warden/pkg/sampler"
	"warden-hq/warden/pkg/vecstore"
)

// Config contains synthesizer configuration.
type Config struct {
	// ClusterThreshold is the cosine similarity at which two incidents
	// share a cluster. Default: 0.85.
	ClusterThreshold float32

	// MaxClusters caps clusters drafted per cycle; the largest win.
	// Default: 8.
	MaxClusters int

	// MaxClusterIncidents caps incidents shown per prompt. Default: 5.
	MaxClusterIncidents int

	// ExemplarLimit caps historical rules retrieved per cluster.
	// Default: 3.
	ExemplarLimit int
}

// DefaultConfig returns the default synthesizer configuration.
func DefaultConfig() *Config {
	return &Config{
		ClusterThreshold:    0.85,
		MaxClusters:         8,
		MaxClusterIncidents: 5,
		ExemplarLimit:       3,
	}
}

// Synthesizer turns incident clusters into draft rule generations.
type Synthesizer struct {
	cfg       *Config
	generator llm.Generator
	exemplars vecstore.Store
	current   func() *rule.RuleSet
	logger    *slog.Logger
}

// New creates a synthesizer. exemplars may be nil when no historical
// rule index exists yet. current supplies the live generation for the
// draft's base-generation stamp.
func New(cfg *Config, generator llm.Generator, exemplars vecstore.Store, current func() *rule.RuleSet, logger *slog.Logger) *Synthesizer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.ClusterThreshold <= 0 {
		cfg.ClusterThreshold = def.ClusterThreshold
	}
	if cfg.MaxClusters <= 0 {
		cfg.MaxClusters = def.MaxClusters
	}
	if cfg.MaxClusterIncidents <= 0 {
		cfg.MaxClusterIncidents = def.MaxClusterIncidents
	}
	if cfg.ExemplarLimit <= 0 {
		cfg.ExemplarLimit = def.ExemplarLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		cfg:       cfg,
		generator: generator,
		exemplars: exemplars,
		current:   current,
		logger:    logger.With("component", "synth"),
	}
}

// Synthesize drafts a candidate generation from the given incidents.
//
// Incidents are clustered by embedding similarity; each cluster is
// prompted separately with retrieved exemplar rules. Drafted rules that
// fail to compile are dropped and logged, never included. The draft
// carries BaseGeneration = the live generation at draft time.
func (s *Synthesizer) Synthesize(ctx context.Context, incidents []sampler.Incident) (*rule.RuleSet, error) {
	if len(incidents) == 0 {
		return nil, ErrNoCandidates
	}

	base := s.current().Generation
	clusters := s.cluster(incidents)

	var rules []*rule.Rule
	for _, cluster := range clusters {
		drafted, err := s.draftCluster(ctx, cluster)
		if err != nil {
			return nil, err
		}
		rules = append(rules, drafted...)
	}
	if len(rules) == 0 {
		return nil, ErrNoCandidates
	}

	draft := rule.NewDraft(base, rules)
	s.logger.Info("draft generation assembled",
		"base_generation", base,
		"clusters", len(clusters),
		"rules", len(rules),
	)
	return draft, nil
}

// draftCluster prompts the generator for one cluster and keeps only the
// rules that survive the strict decode and compile.
func (s *Synthesizer) draftCluster(ctx context.Context, cluster []sampler.Incident) ([]*rule.Rule, error) {
	shown := cluster
	if len(shown) > s.cfg.MaxClusterIncidents {
		shown = shown[:s.cfg.MaxClusterIncidents]
	}

	exemplars, err := s.retrieveExemplars(ctx, cluster)
	if err != nil {
		s.logger.Warn("exemplar retrieval failed, drafting without", "error", err)
	}

	reply, err := s.generator.Generate(ctx, systemPrompt, buildUserPrompt(shown, exemplars))
	if err != nil {
		return nil, &SynthesisError{Stage: "generate", Cause: err}
	}

	specs, err := rule.DecodeSpecs("synthesis", sanitizeReply(reply))
	if err != nil {
		// A malformed document loses this cluster only.
		s.logger.Warn("drafted document rejected", "error", err)
		return nil, nil
	}

	sourceIncident := cluster[0].ID
	compiled, compileErrs := rule.CompileSpecs(specs, rule.ProvenanceSynthesized, sourceIncident)
	for _, cerr := range compileErrs {
		s.logger.Warn("drafted rule dropped", "error", cerr)
	}
	return compiled, nil
}

// retrieveExemplars searches the historical rule index with the cluster
// centroid.
func (s *Synthesizer) retrieveExemplars(ctx context.Context, cluster []sampler.Incident) ([]vecstore.Match, error) {
	if s.exemplars == nil || s.exemplars.Len() == 0 {
		return nil, nil
	}
	centroid := centroid(cluster)
	if centroid == nil {
		return nil, nil
	}
	return s.exemplars.Search(ctx, centroid, s.cfg.ExemplarLimit)
}

// cluster groups incidents greedily: an incident joins the first cluster
// whose seed it resembles, otherwise it seeds a new one. Unembedded
// incidents each seed their own cluster. Largest clusters are kept when
// the cap is exceeded.
func (s *Synthesizer) cluster(incidents []sampler.Incident) [][]sampler.Incident {
	var clusters [][]sampler.Incident

next:
	for _, inc := range incidents {
		if len(inc.Vector) > 0 {
			for i, c := range clusters {
				seed := c[0]
				if len(seed.Vector) == 0 {
					continue
				}
				if vecstore.Cosine(inc.Vector, seed.Vector) >= s.cfg.ClusterThreshold {
					clusters[i] = append(clusters[i], inc)
					continue next
				}
			}
		}
		clusters = append(clusters, []sampler.Incident{inc})
	}

	if len(clusters) > s.cfg.MaxClusters {
		// Selection sort by size; cluster counts are tiny.
		for i := 0; i < s.cfg.MaxClusters; i++ {
			best := i
			for j := i + 1; j < len(clusters); j++ {
				if len(clusters[j]) > len(clusters[best]) {
					best = j
				}
			}
			clusters[i], clusters[best] = clusters[best], clusters[i]
		}
		clusters = clusters[:s.cfg.MaxClusters]
	}
	return clusters
}

// IndexRules upserts a generation's rules into the exemplar store so
// later cycles can retrieve them. Called after a successful publish.
func (s *Synthesizer) IndexRules(ctx context.Context, embedder llm.Embedder, rs *rule.RuleSet) error {
	if s.exemplars == nil || embedder == nil || rs.Len() == 0 {
		return nil
	}

	texts := make([]string, 0, rs.Len())
	for _, r := range rs.Rules {
		texts = append(texts, specText(r))
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return &SynthesisError{Stage: "embed", Cause: err}
	}

	docs := make([]vecstore.Document, 0, rs.Len())
	for i, r := range rs.Rules {
		docs = append(docs, vecstore.Document{
			ID:     r.ID,
			Text:   texts[i],
			Vector: vectors[i],
		})
	}
	return s.exemplars.Upsert(ctx, docs)
}

// centroid averages the embedded vectors of a cluster.
func centroid(cluster []sampler.Incident) []float32 {
	var sum []float32
	n := 0
	for _, inc := range cluster {
		if len(inc.Vector) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float32, len(inc.Vector))
		}
		if len(inc.Vector) != len(sum) {
			continue
		}
		for i, v := range inc.Vector {
			sum[i] += v
		}
		n++
	}
	if n == 0 {
		return nil
	}
	for i := range sum {
		sum[i] /= float32(n)
	}
	return sum
}

// sanitizeReply strips markdown fences some models wrap around YAML.
func sanitizeReply(reply string) []byte {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return []byte(strings.TrimSpace(text))
}
