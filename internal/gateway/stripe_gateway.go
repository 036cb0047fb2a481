// Package gateway binds the card processor to interfaces.PaymentGateway.
package gateway

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/akylbek/payment-system/ride-payments/internal/interfaces"
	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
)

type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api}
}

// Authorize creates and confirms a manual-capture PaymentIntent.
func (g *StripeGateway) Authorize(ctx context.Context, req interfaces.AuthorizeRequest) (*interfaces.AuthorizeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.New(params)
	telemetry.ObserveGatewayCall("authorize", err)
	if err != nil {
		return nil, fmt.Errorf("stripe authorize: %w: %w", models.ErrGateway, err)
	}
	return &interfaces.AuthorizeResult{ExternalID: pi.ID, Status: MapStatus(pi.Status)}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, externalID string, amount int64) (*interfaces.CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	if amount > 0 {
		params.AmountToCapture = stripe.Int64(amount)
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Capture(externalID, params)
	telemetry.ObserveGatewayCall("capture", err)
	if err != nil {
		return nil, fmt.Errorf("stripe capture %s: %w: %w", externalID, models.ErrGateway, err)
	}
	return &interfaces.CaptureResult{CapturedAmount: pi.AmountReceived, Status: MapStatus(pi.Status)}, nil
}

func (g *StripeGateway) Cancel(ctx context.Context, externalID, reason string) (models.PaymentStatus, error) {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Cancel(externalID, params)
	telemetry.ObserveGatewayCall("cancel", err)
	if err != nil {
		return "", fmt.Errorf("stripe cancel %s (%s): %w: %w", externalID, reason, models.ErrGateway, err)
	}
	return MapStatus(pi.Status), nil
}

func (g *StripeGateway) Refund(ctx context.Context, externalID string, amount int64, reason string) (*interfaces.RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(externalID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	if reason != "" {
		params.AddMetadata("reason", reason)
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	telemetry.ObserveGatewayCall("refund", err)
	if err != nil {
		return nil, fmt.Errorf("stripe refund %s: %w: %w", externalID, models.ErrGateway, err)
	}
	return &interfaces.RefundResult{RefundID: r.ID, AmountRefunded: r.Amount}, nil
}

// MapStatus folds the processor's intent status into ours. A held manual
// capture intent is reported by Stripe as requires_capture.
func MapStatus(s stripe.PaymentIntentStatus) models.PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return models.StatusRequiresPaymentMethod
	case stripe.PaymentIntentStatusRequiresConfirmation:
		return models.StatusRequiresConfirmation
	case stripe.PaymentIntentStatusRequiresAction:
		return models.StatusRequiresAction
	case stripe.PaymentIntentStatusProcessing:
		return models.StatusProcessing
	case stripe.PaymentIntentStatusRequiresCapture:
		return models.StatusAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		return models.StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return models.StatusCanceled
	default:
		return models.StatusFailed
	}
}
