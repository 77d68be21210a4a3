package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/models"
)

// RunTracker records scrape runs and ages out listings a source stops
// reporting. A listing is marked removed once its consecutive-miss count
// exceeds the configured threshold; reappearing resets both counter and
// status in the resolver upsert.
type RunTracker struct {
	db        *gorm.DB
	threshold int
	logger    *logrus.Logger
}

func NewRunTracker(db *database.Database, missedRunThreshold int, logger *logrus.Logger) *RunTracker {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if missedRunThreshold < 0 {
		missedRunThreshold = 0
	}
	return &RunTracker{db: db.DB(), threshold: missedRunThreshold, logger: logger}
}

// Start opens a run for one source.
func (t *RunTracker) Start(ctx context.Context, source string) (*models.ScrapeRun, error) {
	run := &models.ScrapeRun{
		Source:    source,
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusRunning,
	}
	if err := t.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to start scrape run: %w", err)
	}
	return run, nil
}

// Record tallies one listing outcome onto the in-memory run counters.
func (t *RunTracker) Record(run *models.ScrapeRun, outcome Outcome) {
	if outcome != OutcomeSkipped {
		run.ListingsFound++
	}
	switch outcome {
	case OutcomeNew:
		run.ListingsNew++
	case OutcomeUpdated, OutcomePriceChanged:
		run.ListingsUpdated++
	}
}

// Finish persists the counters and closes the run.
func (t *RunTracker) Finish(ctx context.Context, run *models.ScrapeRun, success bool) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = models.RunStatusCompleted
	if !success {
		run.Status = models.RunStatusFailed
	}
	err := t.db.WithContext(ctx).Model(&models.ScrapeRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"finished_at":      run.FinishedAt,
			"listings_found":   run.ListingsFound,
			"listings_new":     run.ListingsNew,
			"listings_updated": run.ListingsUpdated,
			"status":           run.Status,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to finish scrape run: %w", err)
	}
	t.logger.WithFields(logrus.Fields{
		"source":  run.Source,
		"found":   run.ListingsFound,
		"new":     run.ListingsNew,
		"updated": run.ListingsUpdated,
		"status":  run.Status,
	}).Info("Scrape run finished")
	return nil
}

// MarkMissing increments missed_runs for every active listing of the source
// absent from the run and marks those past the threshold removed. An empty
// seen set is treated as a failed scrape and skipped, so one bad run never
// ages out a whole source.
func (t *RunTracker) MarkMissing(ctx context.Context, source string, seen map[string]struct{}) (removed int64, err error) {
	if len(seen) == 0 {
		t.logger.WithField("source", source).Warn("Skipping missed-run accounting for empty run")
		return 0, nil
	}

	seenIDs := make([]string, 0, len(seen))
	for id := range seen {
		seenIDs = append(seenIDs, id)
	}

	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Property{}).
			Where("source = ? AND status = ?", source, models.StatusActive).
			Where("external_id NOT IN ?", seenIDs).
			UpdateColumn("missed_runs", gorm.Expr("missed_runs + 1")).Error
		if err != nil {
			return fmt.Errorf("failed to increment missed runs: %w", err)
		}

		res := tx.Model(&models.Property{}).
			Where("source = ? AND status = ?", source, models.StatusActive).
			Where("missed_runs > ?", t.threshold).
			Update("status", models.StatusRemoved)
		if res.Error != nil {
			return fmt.Errorf("failed to remove stale listings: %w", res.Error)
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		t.logger.WithFields(logrus.Fields{
			"source":  source,
			"removed": removed,
		}).Info("Marked stale listings removed")
	}
	return removed, nil
}
