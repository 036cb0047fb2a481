package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

type OutboxRepository interface {
	Add(ctx context.Context, msg *models.OutboxMessage) error
	FetchUnpublished(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// Sink delivers one outbox message to a broker.
type Sink interface {
	Publish(ctx context.Context, msg *models.OutboxMessage) error
}
