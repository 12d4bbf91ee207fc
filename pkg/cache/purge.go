package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger is a store that can drop its expired entries.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// PurgeScheduler runs Purge on a cron schedule.
type PurgeScheduler struct {
	purger   Purger
	schedule string
	onPurge  func(removed int, err error)
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewPurgeScheduler creates a scheduler for purger. schedule uses standard
// cron syntax or descriptors such as "@every 1h". onPurge may be nil.
func NewPurgeScheduler(purger Purger, schedule string, onPurge func(int, error), logger *slog.Logger) *PurgeScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeScheduler{
		purger:   purger,
		schedule: schedule,
		onPurge:  onPurge,
		logger:   logger.With("component", "cache.purge"),
		cron:     cron.New(),
	}
}

// Start schedules purges until ctx is done or Stop is called. An empty
// schedule disables purging.
func (s *PurgeScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("purge schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return fmt.Errorf("purge scheduler already running")
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("cache purge scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce purges expired entries immediately.
func (s *PurgeScheduler) RunOnce(ctx context.Context) {
	removed, err := s.purger.Purge(ctx)
	if s.onPurge != nil {
		s.onPurge(removed, err)
	}
	if err != nil {
		s.logger.Error("cache purge failed", "error", err)
		return
	}
	s.logger.Debug("cache purge completed", "removed", removed)
}

// Stop stops the scheduler and waits for a running purge to finish.
func (s *PurgeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("cache purge scheduler stopped")
}

// NextRun returns the next scheduled purge, or the zero time when idle.
func (s *PurgeScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
