package queue

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Batch is one scrape run's worth of raw listings for a single source.
type Batch struct {
	Source   string
	Listings []models.RawListing
}

// ListingQueue is the in-memory buffer between the ingest endpoint and the
// batch processors. Pushes never block; a full queue is reported to the
// caller so scrapers can back off.
type ListingQueue struct {
	items    chan *Batch
	done     chan struct{}
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []func(*Batch) error
}

func NewListingQueue(bufferSize int, logger *logrus.Logger) *ListingQueue {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &ListingQueue{
		items:    make(chan *Batch, bufferSize),
		done:     make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func(*Batch) error, 0),
	}
}

// Push adds a batch to the queue.
func (q *ListingQueue) Push(batch *Batch) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	select {
	case q.items <- batch:
		q.logger.WithFields(logrus.Fields{
			"source":     batch.Source,
			"batch_size": len(batch.Listings),
		}).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler called for each dequeued batch.
func (q *ListingQueue) Subscribe(handler func(*Batch) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches the given number of consumer loops. Each batch is taken by
// exactly one consumer.
func (q *ListingQueue) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go q.process()
	}
}

func (q *ListingQueue) process() {
	for {
		select {
		case <-q.done:
			return
		case batch, ok := <-q.items:
			if !ok {
				return
			}
			q.processBatch(batch)
		}
	}
}

func (q *ListingQueue) processBatch(batch *Batch) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).Error("Handler failed to process batch")
		}
	}
}

// Close stops the queue and rejects further pushes.
func (q *ListingQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.done)
	close(q.items)
	return nil
}

// Len returns the number of queued batches.
func (q *ListingQueue) Len() int {
	return len(q.items)
}

// IsClosed reports whether the queue has been closed.
func (q *ListingQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
