package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/ride-payments/internal/interfaces"
	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// RideEventConsumer turns ride.completed events into capture queue entries.
type RideEventConsumer struct {
	reader     MessageReader
	queue      interfaces.CaptureQueueRepository
	retryDelay time.Duration
}

func NewRideEventConsumer(reader MessageReader, queue interfaces.CaptureQueueRepository) *RideEventConsumer {
	return &RideEventConsumer{reader: reader, queue: queue, retryDelay: time.Second}
}

func NewRideCompletedReader(brokers []string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    models.TopicRideCompleted,
		GroupID:  "ride-payments",
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// Run consumes until ctx is done. A message is committed only after its entry
// is stored. Malformed messages and messages naming an unknown payment intent
// are logged and committed so they do not block the partition. Other store
// failures are retried in place.
func (c *RideEventConsumer) Run(ctx context.Context) {
	telemetry.Logger.Info("Started consuming ride.completed events")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.Logger.Error("Error reading message from Kafka", zap.Error(err))
			if !c.wait(ctx) {
				return
			}
			continue
		}

		for {
			err := c.handle(ctx, msg)
			if err == nil {
				break
			}
			telemetry.Logger.Error("Error enqueuing capture",
				zap.String("key", string(msg.Key)),
				zap.Error(err),
			)
			if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrNotFound) {
				break
			}
			if !c.wait(ctx) {
				return
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			telemetry.Logger.Error("Error committing Kafka offset", zap.Error(err))
		}
	}
}

func (c *RideEventConsumer) wait(ctx context.Context) bool {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *RideEventConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var event models.RideCompleted
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode ride.completed: %w: %w", models.ErrValidation, err)
	}
	if event.PaymentIntentID == "" || event.RideID == "" {
		return fmt.Errorf("ride.completed without ride or payment intent: %w", models.ErrValidation)
	}

	entry, err := c.queue.Enqueue(ctx, &models.CaptureQueueEntry{
		ID:              "cq_" + uuid.NewString(),
		PaymentIntentID: event.PaymentIntentID,
		RideID:          event.RideID,
		AmountCents:     event.AmountCents,
	})
	if err != nil {
		return err
	}

	telemetry.Logger.Info("Capture enqueued",
		zap.String("ride_id", event.RideID),
		zap.String("payment_intent_id", event.PaymentIntentID),
		zap.String("entry_id", entry.ID),
	)
	return nil
}
