package processor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dslovacek55-hash/Reality/config"
	"github.com/dslovacek55-hash/Reality/internal/ingest"
	"github.com/dslovacek55-hash/Reality/internal/models"
	"github.com/dslovacek55-hash/Reality/internal/queue"
)

// Ingester is the write path the processor drives listings through.
type Ingester interface {
	Ingest(ctx context.Context, raw models.RawListing) (ingest.Outcome, *models.Property, error)
}

// BatchProcessor consumes listing batches from the queue and drives them
// through the resolver, one independent transaction per listing. It also
// owns the scrape-run bookkeeping for each batch.
type BatchProcessor struct {
	resolver  Ingester
	runs      *ingest.RunTracker
	queue     *queue.ListingQueue
	config    *config.Config
	logger    *logrus.Logger
	waitGroup sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewBatchProcessor(resolver Ingester, runs *ingest.RunTracker, q *queue.ListingQueue, cfg *config.Config, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		resolver: resolver,
		runs:     runs,
		queue:    q,
		config:   cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the queue and launches the consumer workers.
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(func(batch *queue.Batch) error {
		p.waitGroup.Add(1)
		defer p.waitGroup.Done()
		return p.processBatch(batch)
	})
	p.queue.Start(p.config.BatchProcessing.ProcessorCount)
}

// Stop cancels in-flight work and waits for the workers to drain.
func (p *BatchProcessor) Stop() {
	p.cancel()
	p.waitGroup.Wait()
}

// processBatch runs one scrape batch end to end: run tracking, per-listing
// ingestion with retries, then missed-run accounting for the source.
func (p *BatchProcessor) processBatch(batch *queue.Batch) error {
	run, err := p.runs.Start(p.ctx, batch.Source)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(batch.Listings))
	failed := 0

	for _, listing := range batch.Listings {
		outcome, property, err := p.ingestWithRetry(listing)
		if err != nil {
			if errors.Is(err, ingest.ErrValidation) {
				p.logger.WithError(err).WithField("source", batch.Source).
					Warn("Skipping invalid listing")
				continue
			}
			failed++
			p.logger.WithError(err).WithField("source", batch.Source).
				Error("Failed to ingest listing")
			// The listing was present in the run even though storing it
			// failed, so it must not count as missing.
			if externalID := strings.TrimSpace(listing.ExternalID); externalID != "" {
				seen[externalID] = struct{}{}
			}
			continue
		}
		p.runs.Record(run, outcome)
		if property != nil {
			seen[property.ExternalID] = struct{}{}
		}
	}

	if _, err := p.runs.MarkMissing(p.ctx, batch.Source, seen); err != nil {
		p.logger.WithError(err).Error("Missed-run accounting failed")
	}

	// Isolated listing failures do not fail the run; failed is reserved
	// for batch-level errors.
	if err := p.runs.Finish(p.ctx, run, true); err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"source":  batch.Source,
		"found":   run.ListingsFound,
		"new":     run.ListingsNew,
		"updated": run.ListingsUpdated,
		"failed":  failed,
	}).Info("Processed listing batch")
	return nil
}

// ingestWithRetry retries transient storage errors; validation failures are
// final on the first attempt.
func (p *BatchProcessor) ingestWithRetry(listing models.RawListing) (ingest.Outcome, *models.Property, error) {
	var (
		outcome  ingest.Outcome
		property *models.Property
		err      error
	)
	for attempt := 0; attempt <= p.config.BatchProcessing.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying listing ingestion, attempt %d of %d", attempt, p.config.BatchProcessing.MaxRetries)
			select {
			case <-p.ctx.Done():
				return outcome, nil, p.ctx.Err()
			case <-time.After(time.Duration(p.config.BatchProcessing.RetryDelay) * time.Second):
			}
		}

		outcome, property, err = p.resolver.Ingest(p.ctx, listing)
		if err == nil || errors.Is(err, ingest.ErrValidation) {
			return outcome, property, err
		}
	}
	return outcome, nil, err
}
