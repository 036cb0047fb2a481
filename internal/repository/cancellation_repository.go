package repository

import (
	"context"
	"database/sql"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

type CancellationRepository struct {
	db *sql.DB
}

func NewCancellationRepository(db *sql.DB) *CancellationRepository {
	return &CancellationRepository{db: db}
}

func (r *CancellationRepository) CreateIfAbsent(ctx context.Context, rec *models.CancellationRecord) (*models.CancellationRecord, error) {
	calc := rec.Calculation
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cancellation_records (
			id, payment_intent_id, ride_id, booking_id, cancelled_by, cancelled_by_role,
			reason, cancelled_at, departure_time, refund_eligible, refund_percentage,
			refund_amount, cancellation_fee, hours_before_departure, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (payment_intent_id) DO NOTHING
	`, rec.ID, rec.PaymentIntentID, rec.RideID, nullString(rec.BookingID), rec.CancelledBy, rec.CancelledByRole,
		rec.Reason, rec.CancelledAt, rec.DepartureTime, calc.RefundEligible, calc.RefundPercentage,
		calc.RefundAmount, calc.CancellationFee, calc.HoursBeforeDeparture, rec.Status,
	)
	if err != nil {
		return nil, storeErr("insert cancellation record", err)
	}
	return r.getByPaymentIntent(ctx, rec.PaymentIntentID)
}

func (r *CancellationRepository) getByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.CancellationRecord, error) {
	var (
		rec                       models.CancellationRecord
		bookingID, action, errMsg sql.NullString
		reason                    sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, payment_intent_id, ride_id, booking_id, cancelled_by, cancelled_by_role,
			reason, cancelled_at, departure_time, refund_eligible, refund_percentage,
			refund_amount, cancellation_fee, hours_before_departure, action, status,
			error_message, created_at, updated_at
		FROM cancellation_records WHERE payment_intent_id = $1
	`, paymentIntentID).Scan(
		&rec.ID, &rec.PaymentIntentID, &rec.RideID, &bookingID, &rec.CancelledBy, &rec.CancelledByRole,
		&reason, &rec.CancelledAt, &rec.DepartureTime, &rec.Calculation.RefundEligible, &rec.Calculation.RefundPercentage,
		&rec.Calculation.RefundAmount, &rec.Calculation.CancellationFee, &rec.Calculation.HoursBeforeDeparture, &action, &rec.Status,
		&errMsg, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, storeErr("get cancellation record", err)
	}
	rec.BookingID = bookingID.String
	rec.Reason = reason.String
	rec.Action = models.HistoryStatus(action.String)
	rec.ErrorMessage = errMsg.String
	return &rec, nil
}

// UpdateStatus never touches a record that already completed.
func (r *CancellationRepository) UpdateStatus(ctx context.Context, id string, status models.CancellationStatus, action models.HistoryStatus, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cancellation_records
		SET status = $1, action = NULLIF($2, ''), error_message = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $4 AND status <> 'completed'
	`, status, action, errMsg, id)
	if err != nil {
		return storeErr("update cancellation record", err)
	}
	return nil
}
