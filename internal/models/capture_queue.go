package models

import "time"

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

var queueTransitions = map[QueueStatus][]QueueStatus{
	QueuePending:    {QueueProcessing},
	QueueProcessing: {QueuePending, QueueCompleted, QueueFailed},
}

func (s QueueStatus) CanTransitionTo(to QueueStatus) bool {
	for _, next := range queueTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CaptureQueueEntry is one payment waiting to be captured by the worker.
type CaptureQueueEntry struct {
	ID              string      `json:"id"`
	PaymentIntentID string      `json:"payment_intent_id"`
	RideID          string      `json:"ride_id"`
	AmountCents     int64       `json:"amount_cents"`
	Status          QueueStatus `json:"status"`
	Attempts        int         `json:"attempts"`
	LastAttemptAt   *time.Time  `json:"last_attempt_at,omitempty"`
	ClaimedAt       *time.Time  `json:"claimed_at,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}
