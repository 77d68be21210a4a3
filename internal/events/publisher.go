package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// EventQueue is the Redis list the notification worker drains.
	EventQueue = "property_events"
	// OutboxQueue is the Redis list the bot transport drains.
	OutboxQueue = "notification_outbox"

	updateChannel = "property_updates"
)

// Publisher pushes property events to Redis for the notification worker and
// SSE dashboard clients. A nil Publisher silently drops events, so the core
// runs without Redis configured.
type Publisher struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewPublisher(redisURL string, logger *logrus.Logger) (*Publisher, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Publisher{client: redis.NewClient(opts), logger: logger}, nil
}

// NewListing announces a freshly created canonical property.
func (p *Publisher) NewListing(ctx context.Context, propertyID int64, source string) {
	p.publish(ctx, map[string]interface{}{
		"type":        "new_listing",
		"property_id": propertyID,
		"source":      source,
	})
}

// PriceDrop announces an observed price change.
func (p *Publisher) PriceDrop(ctx context.Context, propertyID int64, source string, oldPrice, newPrice float64) {
	p.publish(ctx, map[string]interface{}{
		"type":        "price_drop",
		"property_id": propertyID,
		"source":      source,
		"old_price":   oldPrice,
		"new_price":   newPrice,
	})
}

// publish delivers best-effort; a broken event bus never fails ingestion.
func (p *Publisher) publish(ctx context.Context, event map[string]interface{}) {
	if p == nil {
		return
	}
	event["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal property event")
		return
	}
	if err := p.client.RPush(ctx, EventQueue, payload).Err(); err != nil {
		p.logger.WithError(err).Error("Failed to enqueue property event")
		return
	}
	if err := p.client.Publish(ctx, updateChannel, payload).Err(); err != nil {
		p.logger.WithError(err).Error("Failed to publish property update")
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
