package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

// CaptureQueueRepository defines the capture work queue. Claim moves entries
// from pending to processing atomically so concurrent workers never share one.
type CaptureQueueRepository interface {
	Enqueue(ctx context.Context, entry *models.CaptureQueueEntry) (*models.CaptureQueueEntry, error)
	Claim(ctx context.Context, batchSize, maxAttempts int) ([]*models.CaptureQueueEntry, error)
	RecordAttempt(ctx context.Context, id string, at time.Time) (int, error)
	Complete(ctx context.Context, id string) error
	Release(ctx context.Context, id, errMsg string) error
	Fail(ctx context.Context, id, errMsg string) error
	ResetStale(ctx context.Context, olderThan time.Time) (int64, error)
}
