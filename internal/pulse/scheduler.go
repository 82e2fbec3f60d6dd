package pulse

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

// ClientLister lists clients that have an active portfolio.
type ClientLister interface {
	ListClients(ctx context.Context) ([]string, error)
}

// Scheduler runs every client's digest on a fixed interval.
type Scheduler struct {
	pipeline    *Pipeline
	clients     ClientLister
	interval    time.Duration
	periodDays  int
	concurrency int
	logger      *logger.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(pipeline *Pipeline, clients ClientLister, interval time.Duration, periodDays, concurrency int, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		pipeline:    pipeline,
		clients:     clients,
		interval:    interval,
		periodDays:  periodDays,
		concurrency: concurrency,
		logger:      log.Named("scheduler"),
	}
}

// Run executes one round immediately and then once per interval until ctx
// ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs all clients once and returns the per-client results.
func (s *Scheduler) RunOnce(ctx context.Context) []ClientResult {
	clients, err := s.clients.ListClients(ctx)
	if err != nil {
		s.logger.Error("Failed to list clients", zap.Error(err))
		return nil
	}

	start := time.Now()
	results := s.pipeline.RunClients(ctx, clients, s.periodDays, s.concurrency)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.logger.Info("Pulse round complete",
		zap.Int("clients", len(results)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results
}
