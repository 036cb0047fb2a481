package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

type AuthorizeRequest struct {
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
}

type AuthorizeResult struct {
	ExternalID string
	Status     models.PaymentStatus
}

type CaptureResult struct {
	CapturedAmount int64
	Status         models.PaymentStatus
}

type RefundResult struct {
	RefundID       string
	AmountRefunded int64
}

// PaymentGateway wraps the card processor. Amounts are minor units; a zero
// amount means "the full amount" for Capture and Refund.
type PaymentGateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error)
	Capture(ctx context.Context, externalID string, amount int64) (*CaptureResult, error)
	Cancel(ctx context.Context, externalID, reason string) (models.PaymentStatus, error)
	Refund(ctx context.Context, externalID string, amount int64, reason string) (*RefundResult, error)
}
