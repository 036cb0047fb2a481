package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS payment_intents (
		id VARCHAR(64) PRIMARY KEY,
		external_id VARCHAR(255) UNIQUE,
		ride_id VARCHAR(64) NOT NULL,
		booking_id VARCHAR(64),
		payer_id VARCHAR(64) NOT NULL,
		payee_id VARCHAR(64) NOT NULL,
		amount_total BIGINT NOT NULL,
		amount_subtotal BIGINT NOT NULL,
		discount_amount BIGINT NOT NULL DEFAULT 0,
		amount_captured BIGINT NOT NULL DEFAULT 0,
		amount_refunded BIGINT NOT NULL DEFAULT 0,
		currency VARCHAR(3) NOT NULL,
		capture_method VARCHAR(16) NOT NULL DEFAULT 'manual',
		status VARCHAR(50) NOT NULL,
		captured_at TIMESTAMPTZ,
		canceled_at TIMESTAMPTZ,
		cancellation_reason TEXT,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (amount_total = amount_subtotal - discount_amount AND amount_total >= 0),
		CHECK (amount_refunded <= amount_captured)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_intents_ride ON payment_intents(ride_id)`,
	`CREATE TABLE IF NOT EXISTS payment_history (
		id BIGSERIAL PRIMARY KEY,
		payment_intent_id VARCHAR(64) NOT NULL REFERENCES payment_intents(id),
		status VARCHAR(50) NOT NULL,
		amount BIGINT NOT NULL DEFAULT 0,
		note TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cancellation_records (
		id VARCHAR(64) PRIMARY KEY,
		payment_intent_id VARCHAR(64) NOT NULL UNIQUE REFERENCES payment_intents(id),
		ride_id VARCHAR(64) NOT NULL,
		booking_id VARCHAR(64),
		cancelled_by VARCHAR(64) NOT NULL,
		cancelled_by_role VARCHAR(16) NOT NULL,
		reason TEXT,
		cancelled_at TIMESTAMPTZ NOT NULL,
		departure_time TIMESTAMPTZ NOT NULL,
		refund_eligible BOOLEAN NOT NULL,
		refund_percentage INT NOT NULL,
		refund_amount NUMERIC(12,2) NOT NULL,
		cancellation_fee NUMERIC(12,2) NOT NULL,
		hours_before_departure NUMERIC(10,2) NOT NULL,
		action VARCHAR(50),
		status VARCHAR(50) NOT NULL,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS capture_queue (
		id VARCHAR(64) PRIMARY KEY,
		payment_intent_id VARCHAR(64) NOT NULL REFERENCES payment_intents(id),
		ride_id VARCHAR(64) NOT NULL,
		amount_cents BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		last_attempt_at TIMESTAMPTZ,
		claimed_at TIMESTAMPTZ,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_capture_queue_pending ON capture_queue(created_at) WHERE status = 'pending'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_capture_queue_active ON capture_queue(payment_intent_id) WHERE status IN ('pending', 'processing')`,
	`CREATE TABLE IF NOT EXISTS outbox_messages (
		id VARCHAR(64) PRIMARY KEY,
		topic VARCHAR(255) NOT NULL,
		key VARCHAR(255) NOT NULL,
		payload JSONB NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		next_attempt_at TIMESTAMPTZ,
		published_at TIMESTAMPTZ
	)`,
	`ALTER TABLE outbox_messages ADD COLUMN IF NOT EXISTS next_attempt_at TIMESTAMPTZ`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox_messages(created_at) WHERE published_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS referral_codes (
		code VARCHAR(64) PRIMARY KEY,
		percent_off INT NOT NULL CHECK (percent_off BETWEEN 0 AND 100),
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
}

// InitDB creates the tables this service owns.
func InitDB(ctx context.Context, db *sql.DB) error {
	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return storeErr("init schema", err)
		}
	}
	return nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "foreign_key_violation":
			return fmt.Errorf("%s: %s: %w", op, pqErr.Message, models.ErrNotFound)
		case "unique_violation":
			return fmt.Errorf("%s: %s: %w", op, pqErr.Message, models.ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistence, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
