package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

const queueColumns = `id, payment_intent_id, ride_id, amount_cents, status, attempts,
	last_attempt_at, claimed_at, error_message, created_at`

type CaptureQueueRepository struct {
	db *sql.DB
}

func NewCaptureQueueRepository(db *sql.DB) *CaptureQueueRepository {
	return &CaptureQueueRepository{db: db}
}

// Enqueue adds a pending entry. While an entry for the same payment intent is
// pending or processing, that entry is returned instead.
func (r *CaptureQueueRepository) Enqueue(ctx context.Context, e *models.CaptureQueueEntry) (*models.CaptureQueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		INSERT INTO capture_queue (id, payment_intent_id, ride_id, amount_cents, status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (payment_intent_id) WHERE status IN ('pending', 'processing') DO NOTHING
		RETURNING `+queueColumns,
		e.ID, e.PaymentIntentID, e.RideID, e.AmountCents)
	if err != nil {
		return nil, storeErr("enqueue capture", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 1 {
		return entries[0], nil
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT `+queueColumns+` FROM capture_queue
		WHERE payment_intent_id = $1 AND status IN ('pending', 'processing')
	`, e.PaymentIntentID)
	if err != nil {
		return nil, storeErr("load active capture entry", err)
	}
	entries, err = scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("enqueue capture for %s: %w", e.PaymentIntentID, models.ErrConflict)
	}
	return entries[0], nil
}

// Claim locks up to batchSize of the oldest pending entries under maxAttempts
// by moving them to processing in one statement. SKIP LOCKED keeps
// overlapping workers from claiming the same rows.
func (r *CaptureQueueRepository) Claim(ctx context.Context, batchSize, maxAttempts int) ([]*models.CaptureQueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE capture_queue
		SET status = 'processing', claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM capture_queue
			WHERE status = 'pending' AND attempts < $2
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns,
		batchSize, maxAttempts)
	if err != nil {
		return nil, storeErr("claim capture entries", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// RecordAttempt counts one capture attempt and returns the new total.
func (r *CaptureQueueRepository) RecordAttempt(ctx context.Context, id string, at time.Time) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE capture_queue SET attempts = attempts + 1, last_attempt_at = $2
		WHERE id = $1 AND status = 'processing'
		RETURNING attempts
	`, id, at).Scan(&attempts)
	if err != nil {
		return 0, storeErr(fmt.Sprintf("record attempt on %s", id), err)
	}
	return attempts, nil
}

func (r *CaptureQueueRepository) Complete(ctx context.Context, id string) error {
	return r.finish(ctx, id, models.QueueCompleted, "")
}

// Release returns a processing entry to pending for the next run.
func (r *CaptureQueueRepository) Release(ctx context.Context, id, errMsg string) error {
	return r.finish(ctx, id, models.QueuePending, errMsg)
}

func (r *CaptureQueueRepository) Fail(ctx context.Context, id, errMsg string) error {
	return r.finish(ctx, id, models.QueueFailed, errMsg)
}

func (r *CaptureQueueRepository) finish(ctx context.Context, id string, to models.QueueStatus, errMsg string) error {
	if !models.QueueProcessing.CanTransitionTo(to) {
		return fmt.Errorf("capture entry %s: processing to %s: %w", id, to, models.ErrInvalidState)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE capture_queue
		SET status = $1, error_message = NULLIF($2, ''), claimed_at = NULL
		WHERE id = $3 AND status = 'processing'
	`, to, errMsg, id)
	if err != nil {
		return storeErr("update capture entry", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storeErr("update capture entry", err)
	}
	if n == 0 {
		return fmt.Errorf("capture entry %s is no longer processing: %w", id, models.ErrInvalidState)
	}
	return nil
}

// ResetStale is the operator recovery for entries whose worker died mid-run.
func (r *CaptureQueueRepository) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE capture_queue SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1
	`, olderThan)
	if err != nil {
		return 0, storeErr("reset stale capture entries", err)
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*models.CaptureQueueEntry, error) {
	defer rows.Close()

	var entries []*models.CaptureQueueEntry
	for rows.Next() {
		var (
			e                      models.CaptureQueueEntry
			lastAttempt, claimedAt sql.NullTime
			errMsg                 sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.PaymentIntentID, &e.RideID, &e.AmountCents, &e.Status, &e.Attempts,
			&lastAttempt, &claimedAt, &errMsg, &e.CreatedAt); err != nil {
			return nil, storeErr("scan capture entry", err)
		}
		e.LastAttemptAt = timePtr(lastAttempt)
		e.ClaimedAt = timePtr(claimedAt)
		e.ErrorMessage = errMsg.String
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate capture entries", err)
	}
	return entries, nil
}
