// Package cleanup recovers work abandoned by crashed pipeline runs.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// DiscussionStore fails non-terminal discussions untouched since cutoff.
type DiscussionStore interface {
	FailStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// JobStore fails never-finalized jobs untouched since cutoff.
type JobStore interface {
	FailStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the recovery loop.
type Config struct {
	// Interval between sweeps. Defaults to 10 minutes.
	Interval time.Duration
	// StaleAfter is how long a row may go untouched before it is considered
	// abandoned. Must comfortably exceed the longest legitimate pipeline run.
	// Defaults to 30 minutes.
	StaleAfter time.Duration
}

// Service periodically marks discussions and jobs abandoned by a crashed
// process as failed. Sweeps are idempotent and safe to run from multiple
// replicas: the stores only touch rows that are both non-terminal and stale.
type Service struct {
	cfg         Config
	discussions DiscussionStore
	jobs        JobStore
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the recovery service.
func NewService(cfg Config, discussions DiscussionStore, jobs JobStore) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &Service{
		cfg:         cfg,
		discussions: discussions,
		jobs:        jobs,
		logger:      slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background sweep loop. The first sweep runs immediately,
// recovering rows orphaned by the previous process.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Orphan recovery started",
		"interval", s.cfg.Interval, "stale_after", s.cfg.StaleAfter)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Orphan recovery stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one recovery pass.
func (s *Service) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.StaleAfter)

	jobs, err := s.jobs.FailStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("Orphan recovery: jobs sweep failed", "error", err)
	} else if jobs > 0 {
		s.logger.Info("Orphan recovery: failed stale jobs", "count", jobs)
	}

	discussions, err := s.discussions.FailStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("Orphan recovery: discussions sweep failed", "error", err)
	} else if discussions > 0 {
		s.logger.Info("Orphan recovery: failed stale discussions", "count", discussions)
	}
}
