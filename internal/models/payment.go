package models

import "time"

type PaymentStatus string

const (
	StatusRequiresPaymentMethod PaymentStatus = "requires_payment_method"
	StatusRequiresConfirmation  PaymentStatus = "requires_confirmation"
	StatusRequiresAction        PaymentStatus = "requires_action"
	StatusProcessing            PaymentStatus = "processing"
	StatusRequiresCapture       PaymentStatus = "requires_capture"
	StatusAuthorized            PaymentStatus = "authorized"
	StatusSucceeded             PaymentStatus = "succeeded"
	StatusCanceled              PaymentStatus = "canceled"
	StatusFailed                PaymentStatus = "failed"
)

const CaptureMethodManual = "manual"

// MetaCancellationAction is the metadata key a policy cancellation writes
// together with its money movement. Its presence means the cancellation has
// already settled the intent.
const MetaCancellationAction = "cancellation_action"

// paymentTransitions lists every legal forward move. Refunds keep an intent in
// succeeded and are guarded separately by the refunded amount.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	StatusRequiresPaymentMethod: {StatusRequiresConfirmation, StatusCanceled, StatusFailed},
	StatusRequiresConfirmation:  {StatusRequiresAction, StatusProcessing, StatusAuthorized, StatusRequiresCapture, StatusCanceled, StatusFailed},
	StatusRequiresAction:        {StatusProcessing, StatusAuthorized, StatusRequiresCapture, StatusCanceled, StatusFailed},
	StatusProcessing:            {StatusAuthorized, StatusRequiresCapture, StatusSucceeded, StatusCanceled, StatusFailed},
	StatusRequiresCapture:       {StatusSucceeded, StatusCanceled, StatusFailed},
	StatusAuthorized:            {StatusSucceeded, StatusCanceled, StatusFailed},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusRequiresPaymentMethod, StatusRequiresConfirmation, StatusRequiresAction,
		StatusProcessing, StatusRequiresCapture, StatusAuthorized,
		StatusSucceeded, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusCanceled || s == StatusFailed
}

// CaptureEligible is true for the held states a capture may start from.
func (s PaymentStatus) CaptureEligible() bool {
	return s == StatusAuthorized || s == StatusRequiresCapture || s == StatusProcessing
}

// Held reports whether funds are on hold and can be released or captured by a
// cancellation.
func (s PaymentStatus) Held() bool {
	return s == StatusAuthorized || s == StatusRequiresCapture
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentIntent is one booking payment, held with manual capture.
type PaymentIntent struct {
	ID                 string            `json:"id"`
	ExternalID         string            `json:"external_id,omitempty"`
	RideID             string            `json:"ride_id"`
	BookingID          string            `json:"booking_id,omitempty"`
	PayerID            string            `json:"payer_id"`
	PayeeID            string            `json:"payee_id"`
	AmountTotal        int64             `json:"amount_total"`
	AmountSubtotal     int64             `json:"amount_subtotal"`
	DiscountAmount     int64             `json:"discount_amount"`
	AmountCaptured     int64             `json:"amount_captured"`
	AmountRefunded     int64             `json:"amount_refunded"`
	Currency           string            `json:"currency"`
	CaptureMethod      string            `json:"capture_method"`
	Status             PaymentStatus     `json:"status"`
	CapturedAt         *time.Time        `json:"captured_at,omitempty"`
	CanceledAt         *time.Time        `json:"canceled_at,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	Metadata           map[string]string `json:"metadata"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// RefundableAmount is what is still captured and not yet returned.
func (p *PaymentIntent) RefundableAmount() int64 {
	return p.AmountCaptured - p.AmountRefunded
}

// PaymentUpdate carries the columns written together with a status move.
// Zero values leave the stored column untouched.
type PaymentUpdate struct {
	ExternalID         string
	AmountCaptured     int64
	CapturedAt         *time.Time
	CanceledAt         *time.Time
	CancellationReason string
	Metadata           map[string]string
}

type HistoryStatus string

const (
	HistoryAuthorized        HistoryStatus = "authorized"
	HistoryCaptured          HistoryStatus = "captured"
	HistoryCancelled         HistoryStatus = "cancelled"
	HistoryPartialRefund     HistoryStatus = "partial_refund"
	HistoryCompletedNoRefund HistoryStatus = "completed_no_refund"
	HistoryRefunded          HistoryStatus = "refunded"
	HistoryFailed            HistoryStatus = "failed"
)

// PaymentHistoryEntry is an append-only audit row.
type PaymentHistoryEntry struct {
	PaymentIntentID string        `json:"payment_intent_id"`
	Status          HistoryStatus `json:"status"`
	Amount          int64         `json:"amount"`
	Note            string        `json:"note,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}
