// Package outbox relays side-channel events written by the payment service.
package outbox

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/ride-payments/internal/interfaces"
	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
)

const defaultBatch = 100

// Relay polls unpublished outbox rows and hands each to a sink chosen by
// topic: notifications go to NATS, everything else to Kafka. Delivery is at
// least once.
type Relay struct {
	repo          interfaces.OutboxRepository
	events        interfaces.Sink
	notifications interfaces.Sink
	interval      time.Duration
	batch         int
}

func NewRelay(repo interfaces.OutboxRepository, events, notifications interfaces.Sink, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{
		repo:          repo,
		events:        events,
		notifications: notifications,
		interval:      interval,
		batch:         defaultBatch,
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			telemetry.Logger.Error("Outbox flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush relays one batch and returns how many messages were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.repo.FetchUnpublished(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range msgs {
		sink, name := r.events, "kafka"
		if strings.HasPrefix(msg.Topic, models.NotificationTopicPrefix) {
			sink, name = r.notifications, "nats"
		}

		if err := sink.Publish(ctx, msg); err != nil {
			telemetry.OutboxPublished.WithLabelValues(name, "error").Inc()
			telemetry.Logger.Warn("Failed to publish outbox message",
				zap.String("id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Error(err),
			)
			if merr := r.repo.MarkFailed(ctx, msg.ID, err.Error()); merr != nil {
				return published, merr
			}
			continue
		}

		if err := r.repo.MarkPublished(ctx, msg.ID); err != nil {
			return published, err
		}
		telemetry.OutboxPublished.WithLabelValues(name, "ok").Inc()
		published++
	}
	return published, nil
}
