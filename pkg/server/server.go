// Package server assembles warden's components and serves enforcement
// and admin traffic on one listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"warden-hq/warden/pkg/blocklist"
	"warden-hq/warden/pkg/config"
	"warden-hq/warden/pkg/engine"
	"warden-hq/warden/pkg/forward"
	"warden-hq/warden/pkg/lifecycle"
	"warden-hq/warden/pkg/llm"
	"warden-hq/warden/pkg/pipeline"
	"warden-hq/warden/pkg/rule"
	"warden-hq/warden/pkg/rule/source"
	"warden-hq/warden/pkg/rule/store"
	"warden-hq/warden/pkg/sampler"
	"warden-hq/warden/pkg/synth"
	"warden-hq/warden/pkg/telemetry/metrics"
	"warden-hq/warden/pkg/vecstore"
	"warden-hq/warden/pkg/verify"
)

// Server owns every long-lived component and the HTTP listener.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector

	store       *store.Store
	forwarder   *forward.Forwarder
	blocked     blocklist.Checker
	archive     *sampler.Archive
	sampler     *sampler.Sampler
	embedder    llm.Embedder
	exemplars   vecstore.Store
	synthesizer *synth.Synthesizer
	coordinator *lifecycle.Coordinator
	scheduler   *lifecycle.Scheduler
	source      *source.FileSource
	enforce     http.Handler

	httpServer *http.Server
}

// New builds the full component graph from configuration. Nothing is
// started; call Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger.With("component", "server"),
		collector: metrics.NewCollector(),
	}

	st, err := store.Open(&store.Config{
		Path:         cfg.Rules.StorePath,
		HistoryLimit: cfg.Rules.HistoryLimit,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("server: open rule store: %w", err)
	}
	s.store = st
	st.OnPublish(func(rs *rule.RuleSet) {
		s.collector.Publishes.Inc()
		s.indexPublished(rs)
	})

	fwd, err := forward.New(&forward.Config{
		Backend:          cfg.Backend.Target,
		UpstreamHeader:   cfg.Backend.UpstreamHeader,
		AllowedUpstreams: cfg.Backend.AllowedUpstreams,
		ConnectTimeout:   cfg.Backend.ConnectTimeout,
		ReadTimeout:      cfg.Backend.ReadTimeout,
		TotalTimeout:     cfg.Backend.TotalTimeout,
		MaxBodyBytes:     cfg.Backend.MaxBodyBytes,
		MaxInFlight:      cfg.Backend.MaxInFlight,
	}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("server: build forwarder: %w", err)
	}
	s.forwarder = fwd

	if cfg.Blocklist.Enabled {
		if cfg.Blocklist.RedisAddr != "" {
			checker, err := blocklist.NewRedis(context.Background(), &blocklist.RedisConfig{
				Addr:     cfg.Blocklist.RedisAddr,
				Password: cfg.Blocklist.RedisPassword,
				DB:       cfg.Blocklist.RedisDB,
			})
			if err != nil {
				st.Close()
				return nil, fmt.Errorf("server: connect blocklist: %w", err)
			}
			s.blocked = checker
		} else {
			s.blocked = blocklist.NewMemory()
		}
	}

	if cfg.Sampler.ArchivePath != "" {
		archive, err := sampler.OpenArchive(cfg.Sampler.ArchivePath)
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("server: open incident archive: %w", err)
		}
		s.archive = archive
	}

	var generator llm.Generator
	var embedder llm.Embedder
	if cfg.LLM.BaseURL != "" {
		client, err := llm.NewClient(&llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			ChatModel:   cfg.LLM.ChatModel,
			EmbedModel:  cfg.LLM.EmbedModel,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("server: build llm client: %w", err)
		}
		generator = client
		embedder = client
		s.embedder = client
	}

	s.sampler = sampler.New(&sampler.Config{
		WindowSize:     cfg.Sampler.WindowSize,
		WindowAge:      cfg.Sampler.WindowAge,
		QueueSize:      cfg.Sampler.QueueSize,
		DedupThreshold: cfg.Sampler.DedupThreshold,
		OnDrop:         func() { s.collector.SamplerDropped.Inc() },
		OnAdmit:        func() { s.collector.SamplerAdmitted.Inc() },
	}, embedder, s.archive, logger)

	eng := engine.New(&engine.Config{
		RuleBudget: cfg.Pipeline.RuleBudget,
		OnOverBudget: func(ruleID string) {
			s.collector.MatchOverBudget.WithLabelValues(ruleID).Inc()
		},
		OnPanic: func(ruleID string) {
			s.collector.MatchPanics.WithLabelValues(ruleID).Inc()
		},
	}, logger)

	if generator != nil {
		s.exemplars = vecstore.NewMemoryStore()
		s.synthesizer = synth.New(&synth.Config{
			ClusterThreshold:    cfg.Synthesis.ClusterThreshold,
			MaxClusters:         cfg.Synthesis.MaxClusters,
			MaxClusterIncidents: cfg.Synthesis.MaxClusterIncidents,
			ExemplarLimit:       cfg.Synthesis.ExemplarLimit,
		}, generator, s.exemplars, st.Current, logger)

		verifier := verify.New(&verify.Config{
			FPThreshold: cfg.Verify.FPThreshold,
			RuleBudget:  cfg.Pipeline.RuleBudget,
		}, logger)

		s.coordinator = lifecycle.NewCoordinator(&lifecycle.Config{
			IncidentWindow: cfg.Lifecycle.IncidentWindow,
			CycleTimeout:   cfg.Lifecycle.CycleTimeout,
		}, s.sampler, s.synthesizer, verifier, st, s.corpusSource(), func(outcome string) {
			s.collector.CycleRuns.WithLabelValues(outcome).Inc()
		}, logger)
		s.scheduler = lifecycle.NewScheduler(s.coordinator, cfg.Lifecycle.Schedule, logger)
	} else {
		logger.Warn("llm base URL not configured, rule synthesis disabled")
	}

	if cfg.Rules.Dir != "" {
		s.source = source.New(&source.Config{Dir: cfg.Rules.Dir}, st, logger)
	}

	handler := pipeline.NewHandler(&pipeline.Config{
		MaxBodyBytes:  cfg.Backend.MaxBodyBytes,
		InspectLimit:  cfg.Pipeline.InspectLimit,
		OverCapPolicy: pipeline.OverCapPolicy(cfg.Pipeline.OverCapPolicy),
		BlockTTL:      cfg.Pipeline.BlockTTL,
	}, st, eng, fwd, s.blocked, s.sampler, s.collector, logger)

	s.enforce = pipeline.Chain(handler,
		pipeline.Recovery(logger),
		pipeline.RequestID(),
	)
	return s, nil
}

// indexPublished embeds a freshly published generation's rules into the
// exemplar index so later synthesis cycles can retrieve them. Runs
// synchronously under the store's publish lock; an indexing failure
// only costs exemplar quality, so it is logged, never propagated.
func (s *Server) indexPublished(rs *rule.RuleSet) {
	if s.synthesizer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.synthesizer.IndexRules(ctx, s.embedder, rs); err != nil {
		s.logger.Warn("exemplar indexing failed",
			"generation", rs.Generation,
			"error", err,
		)
	}
}

// corpusSource assembles the replay corpus per cycle: known-bad and
// reported false positives from the sampled window and the durable
// archive, held-out known-good from the configured corpus file.
func (s *Server) corpusSource() lifecycle.CorpusSource {
	return func(ctx context.Context) (*verify.Corpus, error) {
		corpus := &verify.Corpus{}
		seen := make(map[string]bool)
		add := func(inc *sampler.Incident) {
			if inc.ID == "" || seen[inc.ID] {
				return
			}
			seen[inc.ID] = true
			if inc.Label == sampler.LabelFalsePositive {
				corpus.KnownGood = append(corpus.KnownGood, verify.InputFromIncident(inc))
			} else {
				corpus.KnownBad = append(corpus.KnownBad, verify.InputFromIncident(inc))
			}
		}

		for _, inc := range s.sampler.RecentIncidents(0) {
			add(&inc)
		}

		// Evicted and pre-restart incidents come back from the archive,
		// so the corpus survives window churn.
		if s.archive != nil {
			window := s.cfg.Lifecycle.IncidentWindow
			if window <= 0 {
				window = s.cfg.Sampler.WindowAge
			}
			archived, err := s.archive.LoadRecent(ctx, time.Now().Add(-window), "")
			if err != nil {
				s.logger.Warn("archive corpus load failed, replaying the live window only", "error", err)
			}
			for i := range archived {
				add(&archived[i])
			}
		}

		if path := s.cfg.Verify.GoodCorpusPath; path != "" {
			good, err := verify.LoadCorpusFile(path)
			if err != nil {
				return nil, err
			}
			corpus.KnownGood = append(corpus.KnownGood, good...)
		}
		return corpus, nil
	}
}

// Run starts every component and blocks until ctx is cancelled or the
// listener fails. Shutdown is graceful within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if s.source != nil {
		if err := s.source.Load(); err != nil {
			return fmt.Errorf("server: load manual rules: %w", err)
		}
		if s.cfg.Rules.Watch {
			go func() {
				if err := s.source.Watch(ctx); err != nil {
					s.logger.Error("rule watcher stopped", "error", err)
				}
			}()
		}
	}

	s.sampler.Start()
	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddress,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "address", s.cfg.Server.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		return s.shutdown()
	case err := <-errChan:
		s.shutdown()
		return fmt.Errorf("server: listener failed: %w", err)
	}
}

// shutdown drains the listener then stops the background components.
func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(shutdownCtx)
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.sampler.Stop()
	s.closeAll()
	return err
}

// closeAll releases storage and network resources. Safe to call with a
// partially built server.
func (s *Server) closeAll() {
	if s.blocked != nil {
		if err := s.blocked.Close(); err != nil {
			s.logger.Error("blocklist close failed", "error", err)
		}
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Error("archive close failed", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("rule store close failed", "error", err)
		}
	}
}
