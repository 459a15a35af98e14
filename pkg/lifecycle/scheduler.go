package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs lifecycle cycles on a cron cadence. On-demand triggers
// (the admin route) go through the same coordinator and coalesce with
// scheduled runs.
type Scheduler struct {
	coordinator *Coordinator
	schedule    string
	cron        *cron.Cron
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for the given cron expression, e.g.
// "*/15 * * * *" for every 15 minutes. An empty expression disables
// scheduled runs; TriggerNow still works.
func NewScheduler(coordinator *Coordinator, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		coordinator: coordinator,
		schedule:    schedule,
		cron:        cron.New(),
		logger:      logger.With("component", "lifecycle.scheduler"),
	}
}

// Start begins scheduled cycles and stops them when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("cycle schedule not configured, on-demand only")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("lifecycle: invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		outcome := s.coordinator.TriggerNow(ctx)
		s.logger.Info("scheduled cycle finished", "outcome", outcome)
	}); err != nil {
		return fmt.Errorf("lifecycle: schedule cycle: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("cycle scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduled cycles; an in-flight cycle finishes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info("cycle scheduler stopped")
}
