package repository

import (
	"context"
	"database/sql"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

// MaxOutboxAttempts is how many failed publishes a message gets before the
// relay stops picking it up. Parked rows keep last_error for an operator.
const MaxOutboxAttempts = 10

type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Add(ctx context.Context, m *models.OutboxMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, topic, key, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`, m.ID, m.Topic, m.Key, string(m.Payload))
	if err != nil {
		return storeErr("insert outbox message", err)
	}
	return nil
}

func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, topic, key, payload, attempts, last_error, created_at
		FROM outbox_messages
		WHERE published_at IS NULL
			AND attempts < $2
			AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $1
	`, limit, MaxOutboxAttempts)
	if err != nil {
		return nil, storeErr("fetch outbox", err)
	}
	defer rows.Close()

	var msgs []*models.OutboxMessage
	for rows.Next() {
		var (
			m       models.OutboxMessage
			payload []byte
			lastErr sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &payload, &m.Attempts, &lastErr, &m.CreatedAt); err != nil {
			return nil, storeErr("scan outbox", err)
		}
		m.Payload = payload
		m.LastError = lastErr.String
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate outbox", err)
	}
	return msgs, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET published_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return storeErr("mark outbox published", err)
	}
	return nil
}

// MarkFailed records a failed publish and pushes the next attempt out
// exponentially, 2^attempts seconds capped at ten minutes.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET attempts = attempts + 1,
			last_error = $1,
			next_attempt_at = NOW() + LEAST(INTERVAL '1 second' * power(2, attempts), INTERVAL '10 minutes')
		WHERE id = $2
	`, errMsg, id)
	if err != nil {
		return storeErr("mark outbox failed", err)
	}
	return nil
}
