package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

type PaymentIntentRepository struct {
	db *sql.DB
}

func NewPaymentIntentRepository(db *sql.DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

func (r *PaymentIntentRepository) Create(ctx context.Context, p *models.PaymentIntent) error {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO payment_intents (
			id, external_id, ride_id, booking_id, payer_id, payee_id,
			amount_total, amount_subtotal, discount_amount, currency,
			capture_method, status, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb)
		RETURNING created_at, updated_at
	`, p.ID, nullString(p.ExternalID), p.RideID, nullString(p.BookingID), p.PayerID, p.PayeeID,
		p.AmountTotal, p.AmountSubtotal, p.DiscountAmount, p.Currency,
		p.CaptureMethod, p.Status, meta,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return storeErr("insert payment intent", err)
	}
	return nil
}

func (r *PaymentIntentRepository) GetByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var (
		p                            models.PaymentIntent
		externalID, bookingID, cause sql.NullString
		capturedAt, canceledAt       sql.NullTime
		meta                         []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, ride_id, booking_id, payer_id, payee_id,
			amount_total, amount_subtotal, discount_amount, amount_captured, amount_refunded,
			currency, capture_method, status, captured_at, canceled_at, cancellation_reason,
			metadata, created_at, updated_at
		FROM payment_intents WHERE id = $1
	`, id).Scan(
		&p.ID, &externalID, &p.RideID, &bookingID, &p.PayerID, &p.PayeeID,
		&p.AmountTotal, &p.AmountSubtotal, &p.DiscountAmount, &p.AmountCaptured, &p.AmountRefunded,
		&p.Currency, &p.CaptureMethod, &p.Status, &capturedAt, &canceledAt, &cause,
		&meta, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, storeErr(fmt.Sprintf("get payment intent %s", id), err)
	}

	if !p.Status.Valid() {
		return nil, fmt.Errorf("payment intent %s has unknown status %q: %w", id, p.Status, models.ErrPersistence)
	}
	p.ExternalID = externalID.String
	p.BookingID = bookingID.String
	p.CancellationReason = cause.String
	p.CapturedAt = timePtr(capturedAt)
	p.CanceledAt = timePtr(canceledAt)
	if err := json.Unmarshal(meta, &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w: %w", id, models.ErrPersistence, err)
	}
	return &p, nil
}

// TransitionStatus moves the intent from one status to another only if it is
// still in from. The external id is written once and never replaced.
func (r *PaymentIntentRepository) TransitionStatus(ctx context.Context, id string, from, to models.PaymentStatus, u models.PaymentUpdate) (int64, error) {
	meta, err := encodeMetadata(u.Metadata)
	if err != nil {
		return 0, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $1,
			external_id = COALESCE(external_id, NULLIF($2, '')),
			amount_captured = CASE WHEN $3::bigint > 0 THEN $3::bigint ELSE amount_captured END,
			captured_at = COALESCE($4::timestamptz, captured_at),
			canceled_at = COALESCE($5::timestamptz, canceled_at),
			cancellation_reason = COALESCE(NULLIF($6, ''), cancellation_reason),
			metadata = metadata || $7::jsonb,
			updated_at = NOW()
		WHERE id = $8 AND status = $9
	`, to, u.ExternalID, u.AmountCaptured, u.CapturedAt, u.CanceledAt, u.CancellationReason, meta, id, from)
	if err != nil {
		return 0, storeErr("transition payment intent", err)
	}
	return result.RowsAffected()
}

// AddRefund accumulates a refund on a succeeded intent and merges meta in the
// same statement. It moves no row when the total would exceed what was
// captured.
func (r *PaymentIntentRepository) AddRefund(ctx context.Context, id string, amount int64, meta map[string]string) (int64, error) {
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return 0, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET amount_refunded = amount_refunded + $1,
			metadata = jsonb_set(metadata || $3::jsonb, '{amount_refunded}', to_jsonb((amount_refunded + $1)::text)),
			updated_at = NOW()
		WHERE id = $2 AND status = 'succeeded' AND amount_refunded + $1 <= amount_captured
	`, amount, id, encoded)
	if err != nil {
		return 0, storeErr("add refund", err)
	}
	return result.RowsAffected()
}

func (r *PaymentIntentRepository) AppendHistory(ctx context.Context, e models.PaymentHistoryEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_history (payment_intent_id, status, amount, note)
		VALUES ($1, $2, $3, $4)
	`, e.PaymentIntentID, e.Status, e.Amount, nullString(e.Note))
	if err != nil {
		return storeErr("append payment history", err)
	}
	return nil
}

func (r *PaymentIntentRepository) ReferralDiscountPercent(ctx context.Context, code string) (int, error) {
	var pct int
	err := r.db.QueryRowContext(ctx,
		`SELECT percent_off FROM referral_codes WHERE code = $1 AND active`, code).Scan(&pct)
	if err != nil {
		return 0, storeErr(fmt.Sprintf("referral code %q", code), err)
	}
	return pct, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}
