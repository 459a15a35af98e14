// Package sampler maintains a bounded rolling window of security
// incidents observed by the enforcement pipeline.
package sampler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden-hq/warden/pkg/llm"
	"warden-hq/warden/pkg/vecstore"
)

// Config contains sampler configuration.
type Config struct {
	// WindowSize caps the number of incidents held; the oldest is
	// evicted first. Default: 512.
	WindowSize int

	// WindowAge caps how long an incident stays in the window.
	// Default: 24h.
	WindowAge time.Duration

	// QueueSize bounds the hand-off channel between the pipeline and
	// the sampler goroutine. Default: 256.
	QueueSize int

	// DedupThreshold is the cosine similarity above which a new
	// observation is folded into an existing incident. Zero disables
	// deduplication. Default: 0.97.
	DedupThreshold float32

	// OnDrop is called when an observation is dropped at the hand-off.
	OnDrop func()

	// OnAdmit is called when an observation enters the window.
	OnAdmit func()
}

// DefaultConfig returns the default sampler configuration.
func DefaultConfig() *Config {
	return &Config{
		WindowSize:     512,
		WindowAge:      24 * time.Hour,
		QueueSize:      256,
		DedupThreshold: 0.97,
	}
}

// Sampler collects incidents from the pipeline without ever blocking it.
// A single goroutine drains the hand-off queue, embeds observations,
// folds near-duplicates and archives the rest.
type Sampler struct {
	cfg      *Config
	embedder llm.Embedder
	archive  *Archive
	logger   *slog.Logger

	queue chan Observation

	mu     sync.RWMutex
	window []*Incident

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a sampler. embedder and archive may be nil; without an
// embedder deduplication is disabled, without an archive incidents are
// window-only.
func New(cfg *Config, embedder llm.Embedder, archive *Archive, logger *slog.Logger) *Sampler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.WindowAge <= 0 {
		cfg.WindowAge = def.WindowAge
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		cfg:      cfg,
		embedder: embedder,
		archive:  archive,
		logger:   logger.With("component", "sampler"),
		queue:    make(chan Observation, cfg.QueueSize),
	}
}

// Start launches the drain goroutine.
func (s *Sampler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.drain(ctx)
}

// Stop shuts the drain goroutine down, discarding anything still queued.
func (s *Sampler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Offer hands an observation to the sampler. It never blocks: when the
// queue is full the newest observation is dropped and counted.
func (s *Sampler) Offer(obs Observation) bool {
	select {
	case s.queue <- obs:
		return true
	default:
		if s.cfg.OnDrop != nil {
			s.cfg.OnDrop()
		}
		s.logger.Debug("observation dropped, hand-off queue full",
			"request_id", obs.RequestID,
			"label", string(obs.Label),
		)
		return false
	}
}

// RecentIncidents returns incidents observed within the given window,
// oldest first. A zero window means the full retained window.
func (s *Sampler) RecentIncidents(window time.Duration) []Incident {
	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Incident, 0, len(s.window))
	for _, inc := range s.window {
		if inc.ObservedAt.Before(cutoff) {
			continue
		}
		out = append(out, *inc)
	}
	return out
}

// ReportFalsePositive relabels an incident after an operator reports
// its deny as wrong. Both the window copy (when still present) and the
// archived row are rewritten, so the next verification cycle replays
// the request as known-good. Returns false when the incident is in
// neither the window nor the archive.
func (s *Sampler) ReportFalsePositive(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	var found bool
	for _, inc := range s.window {
		if inc.ID == id {
			inc.Label = LabelFalsePositive
			found = true
			break
		}
	}
	s.mu.Unlock()

	if s.archive != nil {
		archived, err := s.archive.UpdateLabel(ctx, id, LabelFalsePositive)
		if err != nil {
			return found, err
		}
		found = found || archived
	}
	return found, nil
}

// Len reports the current window population.
func (s *Sampler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.window)
}

func (s *Sampler) drain(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case obs := <-s.queue:
			s.admit(ctx, obs)
		}
	}
}

// admit embeds the observation, folds near-duplicates and appends the
// rest to the window, evicting by count and age.
func (s *Sampler) admit(ctx context.Context, obs Observation) {
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now()
	}

	var vector []float32
	if s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{obs.Text()})
		if err != nil {
			s.logger.Warn("embedding failed, admitting without vector",
				"request_id", obs.RequestID,
				"error", err,
			)
		} else if len(vectors) == 1 {
			vector = vectors[0]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dup := s.findDuplicateLocked(vector); dup != nil {
		dup.Repeats++
		dup.ObservedAt = obs.ObservedAt
		if s.archive != nil {
			if err := s.archive.IncrementRepeats(ctx, dup.ID); err != nil {
				s.logger.Warn("archive repeat update failed", "incident_id", dup.ID, "error", err)
			}
		}
		return
	}

	inc := &Incident{
		ID:          uuid.New().String(),
		Observation: obs,
		Vector:      vector,
	}
	s.window = append(s.window, inc)
	s.evictLocked()

	if s.cfg.OnAdmit != nil {
		s.cfg.OnAdmit()
	}
	if s.archive != nil {
		if err := s.archive.SaveIncident(ctx, inc); err != nil {
			s.logger.Warn("incident archive write failed", "incident_id", inc.ID, "error", err)
		}
	}
}

// findDuplicateLocked returns the first windowed incident whose vector is
// within the dedup threshold of the given one.
func (s *Sampler) findDuplicateLocked(vector []float32) *Incident {
	if s.cfg.DedupThreshold <= 0 || len(vector) == 0 {
		return nil
	}
	for _, inc := range s.window {
		if len(inc.Vector) == 0 {
			continue
		}
		if vecstore.Cosine(vector, inc.Vector) >= s.cfg.DedupThreshold {
			return inc
		}
	}
	return nil
}

// evictLocked enforces the count and age bounds, oldest first. The
// window is append-only so it is already ordered by admission time.
func (s *Sampler) evictLocked() {
	cutoff := time.Now().Add(-s.cfg.WindowAge)
	start := 0
	for start < len(s.window) && s.window[start].ObservedAt.Before(cutoff) {
		start++
	}
	if over := len(s.window) - start - s.cfg.WindowSize; over > 0 {
		start += over
	}
	if start > 0 {
		s.window = append(s.window[:0:0], s.window[start:]...)
	}
}
