package store

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"warden-hq/warden/pkg/rule"
)

// Config contains rule store configuration.
type Config struct {
	// Path is the SQLite database file. Empty disables persistence
	// (tests, ephemeral deployments).
	Path string

	// HistoryLimit bounds the number of retired generations kept for
	// rollback. Default: 16.
	HistoryLimit int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:         "data/rules.db",
		HistoryLimit: 16,
	}
}

// Snapshot is a summary of a retired generation.
type Snapshot struct {
	Generation  uint64
	ID          string
	Fingerprint string
	RuleCount   int
	RetiredAt   time.Time
}

// Store holds exactly one live generation plus a bounded history of retired
// generations. Readers call Current without blocking; writers serialize on
// an internal mutex and swap the live pointer atomically.
type Store struct {
	live atomic.Pointer[rule.RuleSet]

	mu        sync.Mutex
	history   []retired
	histLimit int

	db     *sqliteBackend
	logger *slog.Logger

	publishHook func(*rule.RuleSet)
}

type retired struct {
	set *rule.RuleSet
	at  time.Time
}

// Open creates a rule store, recovering the last published generation from
// disk when persistence is configured. With nothing to recover, the store
// starts with an empty generation 0 that allows all traffic.
func Open(cfg *Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rule.store")

	s := &Store{
		histLimit: cfg.HistoryLimit,
		logger:    logger,
	}
	if s.histLimit <= 0 {
		s.histLimit = DefaultConfig().HistoryLimit
	}

	if cfg.Path != "" {
		db, err := openSQLite(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		s.db = db
	}

	live, hist, err := s.recover()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.live.Store(live)
	s.history = hist

	s.logger.Info("rule store opened",
		"generation", live.Generation,
		"rule_count", live.Len(),
		"retired_generations", len(hist),
		"persistent", s.db != nil,
	)
	return s, nil
}

// recover loads the last live generation and recent retired generations.
func (s *Store) recover() (*rule.RuleSet, []retired, error) {
	if s.db == nil {
		return emptyGeneration(), nil, nil
	}

	live, err := s.db.loadLive()
	if err != nil {
		return nil, nil, err
	}
	if live == nil {
		live = emptyGeneration()
	}

	hist, err := s.db.loadRetired(s.histLimit)
	if err != nil {
		return nil, nil, err
	}
	return live, hist, nil
}

// emptyGeneration is the generation the store serves before anything has
// been published: zero rules, so all well-formed traffic is allowed.
func emptyGeneration() *rule.RuleSet {
	rs := rule.NewRuleSet(rule.StatusLive, 0, nil)
	return rs
}

// Current returns the live generation. It never returns nil and never
// blocks, regardless of concurrent publishes.
func (s *Store) Current() *rule.RuleSet {
	return s.live.Load()
}

// OnPublish registers a hook invoked (synchronously, under the publish
// lock) after each successful publish or rollback. Used for metrics and
// for indexing published rules into the vector store.
func (s *Store) OnPublish(hook func(*rule.RuleSet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishHook = hook
}

// Publish atomically replaces the live generation with the candidate.
//
// The candidate must be verified and must have been derived from the
// generation that is still live (optimistic concurrency); otherwise
// ErrNotVerified or a StaleGenerationError is returned and the live
// generation is untouched. The swap is linearizable with respect to
// Current: concurrent readers observe the old or the new generation in
// full, never a mixture.
func (s *Store) Publish(candidate *rule.RuleSet) error {
	if candidate == nil {
		return fmt.Errorf("candidate generation is nil")
	}
	if candidate.Status != rule.StatusVerified {
		return fmt.Errorf("%w (status %q)", ErrNotVerified, candidate.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(candidate)
}

func (s *Store) publishLocked(candidate *rule.RuleSet) error {
	cur := s.live.Load()
	if candidate.BaseGeneration != cur.Generation {
		return &StaleGenerationError{Base: candidate.BaseGeneration, Live: cur.Generation}
	}

	now := time.Now().UTC()
	promoted := candidate.WithStatus(rule.StatusLive)
	promoted.Generation = cur.Generation + 1
	promoted.PromotedAt = &now

	// Persist before the swap: a crash mid-publish must never leave
	// readers on a generation that is not recoverable.
	if s.db != nil {
		if err := s.db.saveGeneration(promoted, cur.Generation); err != nil {
			return err
		}
	}

	s.live.Store(promoted)
	s.retireLocked(cur, now)

	s.logger.Info("generation published",
		"generation", promoted.Generation,
		"base_generation", promoted.BaseGeneration,
		"rule_count", promoted.Len(),
		"fingerprint", promoted.Fingerprint,
	)

	if s.publishHook != nil {
		s.publishHook(promoted)
	}
	return nil
}

// retireLocked appends the demoted generation to the bounded history.
func (s *Store) retireLocked(old *rule.RuleSet, at time.Time) {
	if old.Generation == 0 && old.Len() == 0 {
		// The initial empty sentinel is not worth a rollback slot.
		return
	}
	s.history = append(s.history, retired{set: old.WithStatus(rule.StatusRetired), at: at})
	if len(s.history) > s.histLimit {
		s.history = s.history[len(s.history)-s.histLimit:]
	}
}

// Rollback re-promotes a retired generation. The rules are republished
// under a fresh generation number, keeping numbering monotonic and the
// audit trail append-only.
func (s *Store) Rollback(generation uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *rule.RuleSet
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].set.Generation == generation {
			target = s.history[i].set
			break
		}
	}
	if target == nil {
		return &NotFoundError{Generation: generation}
	}

	cur := s.live.Load()
	revived := rule.NewRuleSet(rule.StatusVerified, cur.Generation, target.Rules)

	s.logger.Warn("rolling back to retired generation",
		"retired_generation", generation,
		"live_generation", cur.Generation,
	)
	return s.publishLocked(revived)
}

// History returns summaries of the retired generations, oldest first.
func (s *Store) History() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, len(s.history))
	for i, h := range s.history {
		out[i] = Snapshot{
			Generation:  h.set.Generation,
			ID:          h.set.ID,
			Fingerprint: h.set.Fingerprint,
			RuleCount:   h.set.Len(),
			RetiredAt:   h.at,
		}
	}
	return out
}

// SaveReport persists a verification report alongside the generations.
// A nil-persistence store drops reports silently.
func (s *Store) SaveReport(rec *ReportRecord) error {
	if s.db == nil {
		return nil
	}
	return s.db.saveReport(rec)
}

// Close releases the persistence backend.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.close()
	}
	return nil
}
