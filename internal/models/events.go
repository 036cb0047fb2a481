package models

import (
	"encoding/json"
	"time"
)

const (
	TopicEarningsCredit      = "earnings.credit"
	TopicPaymentStateChanged = "payment.state.changed"
	TopicCancellationNotice  = "notifications.cancellation"
	TopicRideCompleted       = "ride.completed"
	NotificationTopicPrefix  = "notifications."
)

// EarningsCredit is emitted after a successful capture.
type EarningsCredit struct {
	PaymentIntentID string `json:"payment_intent_id"`
	PayeeID         string `json:"payee_id"`
	RideID          string `json:"ride_id"`
	GrossAmount     int64  `json:"gross_amount"`
	PlatformFee     int64  `json:"platform_fee"`
	NetAmount       int64  `json:"net_amount"`
	Currency        string `json:"currency"`
}

// CancellationNotice tells the payer what a cancellation cost them.
type CancellationNotice struct {
	UserID           string `json:"user_id"`
	PaymentIntentID  string `json:"payment_intent_id"`
	RideID           string `json:"ride_id"`
	RefundAmount     string `json:"refund_amount"`
	RefundPercentage int    `json:"refund_percentage"`
	CancelledByRole  string `json:"cancelled_by_role"`
}

type StateChanged struct {
	PaymentIntentID string        `json:"payment_intent_id"`
	State           PaymentStatus `json:"state"`
	PreviousState   PaymentStatus `json:"previous_state"`
	Timestamp       time.Time     `json:"timestamp"`
}

// RideCompleted is consumed from the ride service to enqueue a capture.
type RideCompleted struct {
	RideID          string `json:"ride_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	AmountCents     int64  `json:"amount_cents"`
}

// OutboxMessage is a side-channel event waiting to be relayed.
type OutboxMessage struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}
