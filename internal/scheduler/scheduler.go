package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/dslovacek55-hash/Reality/internal/ingest"
	"github.com/dslovacek55-hash/Reality/internal/stats"
)

// Scheduler runs the periodic maintenance sweeps: statistics aggregation,
// cadastral attribution backfill and cross-source deduplication.
type Scheduler struct {
	cron       *cron.Cron
	aggregator *stats.Aggregator
	resolver   *ingest.Resolver
	cronSpec   string
	logger     *logrus.Logger
	running    bool
}

func NewScheduler(aggregator *stats.Aggregator, resolver *ingest.Resolver, cronSpec string, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Scheduler{
		cron:       cron.New(),
		aggregator: aggregator,
		resolver:   resolver,
		cronSpec:   cronSpec,
		logger:     logger,
	}
}

// Start registers the sweep job and begins the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.cronSpec, s.runSweeps)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.cronSpec, err)
	}
	s.cron.Start()
	s.running = true
	s.logger.WithField("cron", s.cronSpec).Info("Scheduler started")
	return nil
}

// Stop halts the cron loop. Running jobs finish on their own.
func (s *Scheduler) Stop() {
	if s.running {
		s.cron.Stop()
		s.running = false
		s.logger.Info("Scheduler stopped")
	}
}

// RunSweepsNow triggers one full maintenance pass outside the schedule,
// used at startup and by the admin endpoint.
func (s *Scheduler) RunSweepsNow() {
	s.runSweeps()
}

func (s *Scheduler) runSweeps() {
	ctx := context.Background()

	if updated, err := s.resolver.AttributeSweep(ctx); err != nil {
		s.logger.WithError(err).Error("Attribution sweep failed")
	} else if updated > 0 {
		s.logger.WithField("updated", updated).Info("Attribution sweep done")
	}

	if linked, err := s.resolver.DeduplicateSweep(ctx); err != nil {
		s.logger.WithError(err).Error("Deduplication sweep failed")
	} else if linked > 0 {
		s.logger.WithField("linked", linked).Info("Deduplication sweep done")
	}

	if groups, err := s.aggregator.Run(ctx); err != nil {
		s.logger.WithError(err).Error("Statistics aggregation failed")
	} else {
		s.logger.WithField("groups", groups).Info("Statistics aggregation done")
	}
}
