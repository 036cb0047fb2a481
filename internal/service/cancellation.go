package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/policy"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
)

type CancelRequest struct {
	PaymentIntentID string               `json:"payment_intent_id"`
	DepartureTime   time.Time            `json:"departure_time"`
	CancelledBy     string               `json:"cancelled_by"`
	CancelledByRole models.CancellerRole `json:"cancelled_by_role"`
	Reason          string               `json:"reason"`
}

func (r CancelRequest) validate() error {
	switch {
	case r.PaymentIntentID == "":
		return fmt.Errorf("payment_intent_id is required: %w", models.ErrValidation)
	case r.DepartureTime.IsZero():
		return fmt.Errorf("departure_time is required: %w", models.ErrValidation)
	case r.CancelledBy == "":
		return fmt.Errorf("cancelled_by is required: %w", models.ErrValidation)
	case !r.CancelledByRole.Valid():
		return fmt.Errorf("cancelled_by_role %q is not driver or passenger: %w", r.CancelledByRole, models.ErrValidation)
	}
	return nil
}

// CancellationOutcome always carries the priced terms, even when the gateway
// step failed and the record is pending reconciliation.
type CancellationOutcome struct {
	Record *models.CancellationRecord `json:"cancellation"`
	Intent *models.PaymentIntent      `json:"payment_intent"`
}

// CancelWithPolicy prices a cancellation and applies it to the intent:
// release the hold, capture the fee, capture everything, or refund.
// Re-invoking it for an intent whose cancellation completed returns the stored
// outcome without touching the gateway.
func (s *PaymentLifecycle) CancelWithPolicy(ctx context.Context, req CancelRequest) (*CancellationOutcome, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "PaymentLifecycle.CancelWithPolicy")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment_intent.id", req.PaymentIntentID),
		attribute.String("cancelled_by_role", string(req.CancelledByRole)),
	)

	if err := req.validate(); err != nil {
		return nil, err
	}

	p, release, err := s.lockAndLoad(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	defer release()

	switch p.Status {
	case models.StatusAuthorized, models.StatusRequiresCapture, models.StatusSucceeded, models.StatusCanceled:
	default:
		return nil, fmt.Errorf("cannot cancel %s with policy in status %s: %w", p.ID, p.Status, models.ErrInvalidState)
	}

	cancelledAt := s.now()
	calc := policy.CalculateRefund(req.DepartureTime, policy.MajorUnits(p.AmountTotal), cancelledAt, req.CancelledByRole)
	if p.Status == models.StatusCanceled {
		calc = policy.ReleasedHold(req.DepartureTime, policy.MajorUnits(p.AmountTotal), cancelledAt)
	}
	rec, err := s.cancellations.CreateIfAbsent(ctx, &models.CancellationRecord{
		ID:              "cx_" + uuid.NewString(),
		PaymentIntentID: p.ID,
		RideID:          p.RideID,
		BookingID:       p.BookingID,
		CancelledBy:     req.CancelledBy,
		CancelledByRole: req.CancelledByRole,
		Reason:          req.Reason,
		CancelledAt:     cancelledAt,
		DepartureTime:   req.DepartureTime,
		Calculation:     calc,
		Status:          models.CancellationPending,
	})
	if err != nil {
		return nil, err
	}

	outcome := &CancellationOutcome{Record: rec, Intent: p}
	if rec.Status == models.CancellationCompleted {
		telemetry.Logger.Info("Cancellation already applied",
			zap.String("payment_intent_id", p.ID),
			zap.String("action", string(rec.Action)),
		)
		return outcome, nil
	}

	action, err := s.applyCancellation(ctx, p, rec)
	if err != nil {
		span.RecordError(err)
		telemetry.Logger.Warn("Cancellation pending reconciliation",
			zap.String("payment_intent_id", p.ID),
			zap.String("cancellation_id", rec.ID),
			zap.Error(err),
		)
		rec.Status = models.CancellationPendingReconciliation
		rec.ErrorMessage = err.Error()
		if uerr := s.cancellations.UpdateStatus(ctx, rec.ID, rec.Status, "", rec.ErrorMessage); uerr != nil {
			telemetry.Logger.Error("Failed to mark cancellation for reconciliation",
				zap.String("cancellation_id", rec.ID),
				zap.Error(uerr),
			)
		}
		return outcome, err
	}

	if err := s.cancellations.UpdateStatus(ctx, rec.ID, models.CancellationCompleted, action, ""); err != nil {
		return outcome, err
	}
	rec.Status = models.CancellationCompleted
	rec.Action = action
	rec.ErrorMessage = ""

	s.recordHistory(ctx, p.ID, action, policy.MinorUnits(rec.Calculation.RefundAmount), req.Reason)
	s.emit(ctx, models.TopicCancellationNotice, p.PayerID, models.CancellationNotice{
		UserID:           p.PayerID,
		PaymentIntentID:  p.ID,
		RideID:           p.RideID,
		RefundAmount:     rec.Calculation.RefundAmount.StringFixed(2),
		RefundPercentage: rec.Calculation.RefundPercentage,
		CancelledByRole:  string(rec.CancelledByRole),
	})
	return outcome, nil
}

// applyCancellation performs the money movement for a stored calculation and
// returns the history status describing it.
func (s *PaymentLifecycle) applyCancellation(ctx context.Context, p *models.PaymentIntent, rec *models.CancellationRecord) (models.HistoryStatus, error) {
	refundCents := policy.MinorUnits(rec.Calculation.RefundAmount)
	feeCents := policy.MinorUnits(rec.Calculation.CancellationFee)

	switch {
	case p.Status == models.StatusCanceled:
		return models.HistoryCancelled, nil

	case p.Status.Held():
		switch {
		case feeCents == 0:
			meta := map[string]string{models.MetaCancellationAction: string(models.HistoryCancelled)}
			return models.HistoryCancelled, s.cancel(ctx, p, rec.Reason, meta)
		case refundCents == 0:
			meta := map[string]string{models.MetaCancellationAction: string(models.HistoryCompletedNoRefund)}
			return models.HistoryCompletedNoRefund, s.capture(ctx, p, p.AmountTotal, "", meta)
		default:
			meta := map[string]string{
				models.MetaCancellationAction: string(models.HistoryPartialRefund),
				"never_charged":               fmt.Sprint(refundCents),
			}
			return models.HistoryPartialRefund, s.capture(ctx, p, feeCents, "", meta)
		}

	case p.Status == models.StatusSucceeded:
		// An earlier attempt of this cancellation already moved the money.
		if done := p.Metadata[models.MetaCancellationAction]; done != "" {
			return models.HistoryStatus(done), nil
		}
		amount := refundCents
		if remaining := p.RefundableAmount(); amount > remaining {
			amount = remaining
		}
		if amount <= 0 {
			return models.HistoryCompletedNoRefund, nil
		}
		meta := map[string]string{models.MetaCancellationAction: string(models.HistoryRefunded)}
		return models.HistoryRefunded, s.refund(ctx, p, amount, rec.Reason, meta)
	}

	return "", fmt.Errorf("cannot cancel %s in status %s: %w", p.ID, p.Status, models.ErrInvalidState)
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
