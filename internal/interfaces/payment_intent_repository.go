package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

// PaymentIntentRepository defines the contract for payment intent data access.
// Status writes are compare-and-swap: they report how many rows moved.
type PaymentIntentRepository interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	GetByID(ctx context.Context, id string) (*models.PaymentIntent, error)
	TransitionStatus(ctx context.Context, id string, from, to models.PaymentStatus, update models.PaymentUpdate) (int64, error)
	// AddRefund merges meta into the intent metadata in the same write.
	AddRefund(ctx context.Context, id string, amount int64, meta map[string]string) (int64, error)
	AppendHistory(ctx context.Context, entry models.PaymentHistoryEntry) error
	ReferralDiscountPercent(ctx context.Context, code string) (int, error)
}

// CancellationRepository stores one cancellation record per payment intent.
type CancellationRepository interface {
	// CreateIfAbsent inserts rec unless a record for the same payment intent
	// exists, and returns whichever record is stored.
	CreateIfAbsent(ctx context.Context, rec *models.CancellationRecord) (*models.CancellationRecord, error)
	UpdateStatus(ctx context.Context, id string, status models.CancellationStatus, action models.HistoryStatus, errMsg string) error
}
