package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/ride-payments/internal/interfaces"
	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
)

var platformFeeRate = decimal.RequireFromString("0.15")

type PaymentLifecycle struct {
	intents       interfaces.PaymentIntentRepository
	cancellations interfaces.CancellationRepository
	gateway       interfaces.PaymentGateway
	outbox        interfaces.OutboxRepository
	locker        interfaces.Locker
	currency      string
	now           func() time.Time
}

func NewPaymentLifecycle(
	intents interfaces.PaymentIntentRepository,
	cancellations interfaces.CancellationRepository,
	gateway interfaces.PaymentGateway,
	outbox interfaces.OutboxRepository,
	locker interfaces.Locker,
	currency string,
) *PaymentLifecycle {
	return &PaymentLifecycle{
		intents:       intents,
		cancellations: cancellations,
		gateway:       gateway,
		outbox:        outbox,
		locker:        locker,
		currency:      strings.ToLower(currency),
		now:           time.Now,
	}
}

type AuthorizeRequest struct {
	RideID          string            `json:"ride_id"`
	BookingID       string            `json:"booking_id"`
	RiderID         string            `json:"rider_id"`
	DriverID        string            `json:"driver_id"`
	AmountSubtotal  int64             `json:"amount_subtotal"`
	ReferralCode    string            `json:"referral_code"`
	Currency        string            `json:"currency"`
	CustomerID      string            `json:"customer_id"`
	PaymentMethodID string            `json:"payment_method_id"`
	Metadata        map[string]string `json:"metadata"`
}

func (r AuthorizeRequest) validate() error {
	switch {
	case r.AmountSubtotal <= 0:
		return fmt.Errorf("amount_subtotal must be positive, got %d: %w", r.AmountSubtotal, models.ErrValidation)
	case r.RideID == "":
		return fmt.Errorf("ride_id is required: %w", models.ErrValidation)
	case r.RiderID == "":
		return fmt.Errorf("rider_id is required: %w", models.ErrValidation)
	case r.DriverID == "":
		return fmt.Errorf("driver_id is required: %w", models.ErrValidation)
	}
	return nil
}

// AuthorizeForBooking places a manual-capture hold for one booking.
func (s *PaymentLifecycle) AuthorizeForBooking(ctx context.Context, req AuthorizeRequest) (*models.PaymentIntent, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "PaymentLifecycle.AuthorizeForBooking")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	discount, err := s.referralDiscount(ctx, req.ReferralCode, req.AmountSubtotal)
	if err != nil {
		return nil, err
	}
	total := req.AmountSubtotal - discount
	if total <= 0 {
		return nil, fmt.Errorf("nothing to authorize after discount: %w", models.ErrValidation)
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.currency
	}

	metadata := map[string]string{"ride_id": req.RideID}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.BookingID != "" {
		metadata["booking_id"] = req.BookingID
	}
	if req.ReferralCode != "" {
		metadata["referral_code"] = req.ReferralCode
	}

	intent := &models.PaymentIntent{
		ID:             "pi_" + uuid.NewString(),
		RideID:         req.RideID,
		BookingID:      req.BookingID,
		PayerID:        req.RiderID,
		PayeeID:        req.DriverID,
		AmountTotal:    total,
		AmountSubtotal: req.AmountSubtotal,
		DiscountAmount: discount,
		Currency:       currency,
		CaptureMethod:  models.CaptureMethodManual,
		Status:         models.StatusRequiresConfirmation,
		Metadata:       metadata,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("payment_intent.id", intent.ID))

	res, err := s.gateway.Authorize(ctx, interfaces.AuthorizeRequest{
		Amount:          total,
		Currency:        currency,
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		Metadata:        map[string]string{"payment_intent_id": intent.ID, "ride_id": req.RideID},
	})
	if err != nil {
		s.markFailed(ctx, intent, err)
		return nil, err
	}

	next := res.Status
	switch next {
	case models.StatusAuthorized, models.StatusRequiresCapture, models.StatusRequiresAction, models.StatusProcessing:
	default:
		declined := fmt.Errorf("authorization for %s ended in %s: %w", intent.ID, next, models.ErrGateway)
		s.markFailed(ctx, intent, declined)
		return nil, declined
	}
	if next == models.StatusRequiresCapture {
		next = models.StatusAuthorized
	}

	if err := s.transition(ctx, intent, next, models.PaymentUpdate{ExternalID: res.ExternalID}); err != nil {
		return nil, err
	}
	if next == models.StatusAuthorized {
		s.recordHistory(ctx, intent.ID, models.HistoryAuthorized, total, "")
	}
	return intent, nil
}

func (s *PaymentLifecycle) referralDiscount(ctx context.Context, code string, subtotal int64) (int64, error) {
	if code == "" {
		return 0, nil
	}
	pct, err := s.intents.ReferralDiscountPercent(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("unknown referral code %q: %w", code, models.ErrValidation)
		}
		return 0, err
	}
	discount := decimal.NewFromInt(subtotal).Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	if discount > subtotal {
		discount = subtotal
	}
	return discount, nil
}

func (s *PaymentLifecycle) Get(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return s.intents.GetByID(ctx, id)
}

// CaptureOnCompletion charges a held intent. amount 0 captures the full total.
// On success the payee's earnings are credited net of the platform fee.
func (s *PaymentLifecycle) CaptureOnCompletion(ctx context.Context, id string, amount int64) (*models.PaymentIntent, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "PaymentLifecycle.CaptureOnCompletion")
	defer span.End()
	span.SetAttributes(attribute.String("payment_intent.id", id))

	p, release, err := s.lockAndLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.capture(ctx, p, amount, models.HistoryCaptured, nil); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return p, nil
}

// Cancel releases the hold on an authorized intent.
func (s *PaymentLifecycle) Cancel(ctx context.Context, id, reason string) (*models.PaymentIntent, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "PaymentLifecycle.Cancel")
	defer span.End()

	p, release, err := s.lockAndLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.cancel(ctx, p, reason, nil); err != nil {
		return nil, err
	}
	s.recordHistory(ctx, p.ID, models.HistoryCancelled, 0, reason)
	return p, nil
}

// Refund returns captured funds. amount 0 refunds everything still refundable.
func (s *PaymentLifecycle) Refund(ctx context.Context, id string, amount int64, reason string) (*models.PaymentIntent, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "PaymentLifecycle.Refund")
	defer span.End()

	p, release, err := s.lockAndLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	before := p.AmountRefunded
	if err := s.refund(ctx, p, amount, reason, nil); err != nil {
		return nil, err
	}
	s.recordHistory(ctx, p.ID, models.HistoryRefunded, p.AmountRefunded-before, reason)
	return p, nil
}

func (s *PaymentLifecycle) lockAndLoad(ctx context.Context, id string) (*models.PaymentIntent, func(), error) {
	if id == "" {
		return nil, nil, fmt.Errorf("payment intent id is required: %w", models.ErrValidation)
	}
	release, err := s.locker.Acquire(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.intents.GetByID(ctx, id)
	if err != nil {
		release()
		return nil, nil, err
	}
	return p, release, nil
}

// capture skips the history row when hist is empty; the caller writes its own.
func (s *PaymentLifecycle) capture(ctx context.Context, p *models.PaymentIntent, amount int64, hist models.HistoryStatus, meta map[string]string) error {
	if !p.Status.CaptureEligible() {
		return fmt.Errorf("cannot capture %s in status %s: %w", p.ID, p.Status, models.ErrInvalidState)
	}
	if amount == 0 {
		amount = p.AmountTotal
	}
	if amount < 0 || amount > p.AmountTotal {
		return fmt.Errorf("capture amount %d outside 1..%d: %w", amount, p.AmountTotal, models.ErrValidation)
	}

	res, err := s.gateway.Capture(ctx, p.ExternalID, amount)
	if err != nil {
		telemetry.Logger.Warn("Capture failed at gateway",
			zap.String("payment_intent_id", p.ID),
			zap.Error(err),
		)
		return err
	}
	captured := res.CapturedAmount
	if captured == 0 {
		captured = amount
	}

	now := s.now()
	err = s.transition(ctx, p, models.StatusSucceeded, models.PaymentUpdate{
		AmountCaptured: captured,
		CapturedAt:     &now,
		Metadata:       meta,
	})
	if err != nil {
		telemetry.Logger.Error("Captured at gateway but failed to persist",
			zap.String("payment_intent_id", p.ID),
			zap.Int64("captured", captured),
			zap.Error(err),
		)
		return err
	}

	if hist != "" {
		s.recordHistory(ctx, p.ID, hist, captured, "")
	}
	s.creditEarnings(ctx, p, captured)
	return nil
}

func (s *PaymentLifecycle) cancel(ctx context.Context, p *models.PaymentIntent, reason string, meta map[string]string) error {
	if !p.Status.Held() {
		return fmt.Errorf("cannot cancel %s in status %s: %w", p.ID, p.Status, models.ErrInvalidState)
	}
	if _, err := s.gateway.Cancel(ctx, p.ExternalID, reason); err != nil {
		return err
	}
	now := s.now()
	return s.transition(ctx, p, models.StatusCanceled, models.PaymentUpdate{
		CanceledAt:         &now,
		CancellationReason: reason,
		Metadata:           meta,
	})
}

func (s *PaymentLifecycle) refund(ctx context.Context, p *models.PaymentIntent, amount int64, reason string, meta map[string]string) error {
	if p.Status != models.StatusSucceeded {
		return fmt.Errorf("cannot refund %s in status %s: %w", p.ID, p.Status, models.ErrInvalidState)
	}
	remaining := p.RefundableAmount()
	if remaining <= 0 {
		return fmt.Errorf("%s is fully refunded: %w", p.ID, models.ErrInvalidState)
	}
	if amount == 0 {
		amount = remaining
	}
	if amount < 0 || amount > remaining {
		return fmt.Errorf("refund amount %d outside 1..%d: %w", amount, remaining, models.ErrValidation)
	}

	res, err := s.gateway.Refund(ctx, p.ExternalID, amount, reason)
	if err != nil {
		return err
	}

	n, err := s.intents.AddRefund(ctx, p.ID, amount, meta)
	if err != nil {
		telemetry.Logger.Error("Refunded at gateway but failed to persist",
			zap.String("payment_intent_id", p.ID),
			zap.String("refund_id", res.RefundID),
			zap.Error(err),
		)
		return err
	}
	if n == 0 {
		return fmt.Errorf("refund of %d on %s exceeds captured amount: %w", amount, p.ID, models.ErrInvalidState)
	}

	p.AmountRefunded += amount
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	for k, v := range meta {
		p.Metadata[k] = v
	}
	p.Metadata["amount_refunded"] = fmt.Sprint(p.AmountRefunded)
	return nil
}

// transition persists a status move guarded by the status we loaded.
func (s *PaymentLifecycle) transition(ctx context.Context, p *models.PaymentIntent, to models.PaymentStatus, u models.PaymentUpdate) error {
	from := p.Status
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("payment intent %s: %s to %s: %w", p.ID, from, to, models.ErrInvalidState)
	}

	rows, err := s.intents.TransitionStatus(ctx, p.ID, from, to, u)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("payment intent %s is no longer %s: %w", p.ID, from, models.ErrInvalidState)
	}

	p.Status = to
	if u.ExternalID != "" && p.ExternalID == "" {
		p.ExternalID = u.ExternalID
	}
	if u.AmountCaptured > 0 {
		p.AmountCaptured = u.AmountCaptured
	}
	if u.CapturedAt != nil {
		p.CapturedAt = u.CapturedAt
	}
	if u.CanceledAt != nil {
		p.CanceledAt = u.CanceledAt
	}
	if u.CancellationReason != "" {
		p.CancellationReason = u.CancellationReason
	}
	if len(u.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		for k, v := range u.Metadata {
			p.Metadata[k] = v
		}
	}

	telemetry.Transitions.WithLabelValues(string(from), string(to)).Inc()
	telemetry.Logger.Info("Payment state transition",
		zap.String("payment_intent_id", p.ID),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(to)),
	)

	s.emit(ctx, models.TopicPaymentStateChanged, p.ID, models.StateChanged{
		PaymentIntentID: p.ID,
		State:           to,
		PreviousState:   from,
		Timestamp:       s.now(),
	})
	return nil
}

func (s *PaymentLifecycle) markFailed(ctx context.Context, p *models.PaymentIntent, cause error) {
	if err := s.transition(ctx, p, models.StatusFailed, models.PaymentUpdate{}); err != nil {
		telemetry.Logger.Error("Failed to mark payment intent failed",
			zap.String("payment_intent_id", p.ID),
			zap.Error(err),
		)
		return
	}
	s.recordHistory(ctx, p.ID, models.HistoryFailed, 0, cause.Error())
}

func (s *PaymentLifecycle) creditEarnings(ctx context.Context, p *models.PaymentIntent, gross int64) {
	fee := decimal.NewFromInt(gross).Mul(platformFeeRate).Round(0).IntPart()
	s.emit(ctx, models.TopicEarningsCredit, p.PayeeID, models.EarningsCredit{
		PaymentIntentID: p.ID,
		PayeeID:         p.PayeeID,
		RideID:          p.RideID,
		GrossAmount:     gross,
		PlatformFee:     fee,
		NetAmount:       gross - fee,
		Currency:        p.Currency,
	})
}

// recordHistory and emit are best effort: the primary transition has already
// been committed and is never rolled back for them.
func (s *PaymentLifecycle) recordHistory(ctx context.Context, id string, status models.HistoryStatus, amount int64, note string) {
	err := s.intents.AppendHistory(ctx, models.PaymentHistoryEntry{
		PaymentIntentID: id,
		Status:          status,
		Amount:          amount,
		Note:            note,
	})
	if err != nil {
		telemetry.SideEffectFailures.WithLabelValues("history").Inc()
		telemetry.Logger.Warn("Failed to record payment history",
			zap.String("payment_intent_id", id),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (s *PaymentLifecycle) emit(ctx context.Context, topic, key string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err == nil {
		err = s.outbox.Add(ctx, &models.OutboxMessage{
			ID:      uuid.NewString(),
			Topic:   topic,
			Key:     key,
			Payload: body,
		})
	}
	if err != nil {
		telemetry.SideEffectFailures.WithLabelValues("outbox").Inc()
		telemetry.Logger.Warn("Failed to queue event",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
