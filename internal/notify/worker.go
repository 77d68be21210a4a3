package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dslovacek55-hash/Reality/internal/database"
	"github.com/dslovacek55-hash/Reality/internal/events"
	"github.com/dslovacek55-hash/Reality/internal/models"
)

// propertyEvent mirrors the payload the ingestion publisher emits.
type propertyEvent struct {
	Type       string  `json:"type"`
	PropertyID int64   `json:"property_id"`
	OldPrice   float64 `json:"old_price"`
	NewPrice   float64 `json:"new_price"`
}

// Alert is one outbound message for the bot transport.
type Alert struct {
	ChatID     int64    `json:"chat_id"`
	FilterID   int64    `json:"filter_id"`
	FilterName string   `json:"filter_name"`
	PropertyID int64    `json:"property_id"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	City       string   `json:"city"`
	Price      *float64 `json:"price"`
	OldPrice   float64  `json:"old_price,omitempty"`
	NewPrice   float64  `json:"new_price,omitempty"`
}

// Worker drains the property event queue, matches subscriptions and hands
// alerts to the outbox the bot transport consumes. A nil Worker is a no-op,
// so the server runs without Redis configured.
type Worker struct {
	client  *redis.Client
	service *Service
	db      *database.Database
	logger  *logrus.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWorker(redisURL string, service *Service, db *database.Database, logger *logrus.Logger) (*Worker, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Worker{client: redis.NewClient(opts), service: service, db: db, logger: logger}, nil
}

// Start launches the consume loop.
func (w *Worker) Start() {
	if w == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
}

// Stop halts the loop and closes the Redis connection.
func (w *Worker) Stop() {
	if w == nil {
		return
	}
	w.cancel()
	<-w.done
	w.client.Close()
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		res, err := w.client.BLPop(ctx, 5*time.Second, events.EventQueue).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				w.logger.WithError(err).Error("Failed to read property event")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}
		// BLPop returns [key, value].
		if len(res) < 2 {
			continue
		}
		if err := w.handle(ctx, []byte(res[1])); err != nil {
			w.logger.WithError(err).Error("Failed to process property event")
		}
	}
}

func (w *Worker) handle(ctx context.Context, payload []byte) error {
	var ev propertyEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("malformed property event: %w", err)
	}

	property, err := w.db.GetProperty(ev.PropertyID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}

	var filters []models.UserFilter
	switch ev.Type {
	case models.NotifyNewListing:
		filters, err = w.service.FiltersForNewListing(property)
	case models.NotifyPriceDrop:
		filters, err = w.service.FiltersForPriceDrop(property, ev.OldPrice, ev.NewPrice)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	for i := range filters {
		f := &filters[i]
		alert := Alert{
			ChatID:     f.ChatID,
			FilterID:   f.ID,
			FilterName: f.Name,
			PropertyID: property.ID,
			Type:       ev.Type,
			Title:      property.Title,
			URL:        property.URL,
			City:       property.City,
			Price:      property.Price,
		}
		if ev.Type == models.NotifyPriceDrop {
			alert.OldPrice = ev.OldPrice
			alert.NewPrice = ev.NewPrice
		}
		body, err := json.Marshal(alert)
		if err != nil {
			return err
		}
		if err := w.client.RPush(ctx, events.OutboxQueue, body).Err(); err != nil {
			return fmt.Errorf("failed to enqueue alert: %w", err)
		}
		if err := w.service.MarkNotified(f.ID, property.ID, ev.Type); err != nil {
			w.logger.WithError(err).Error("Failed to record notification")
		}
	}
	return nil
}
