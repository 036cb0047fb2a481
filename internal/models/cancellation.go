package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CancellerRole string

const (
	RoleDriver    CancellerRole = "driver"
	RolePassenger CancellerRole = "passenger"
)

func (r CancellerRole) Valid() bool {
	return r == RoleDriver || r == RolePassenger
}

// RefundCalculation is the priced outcome of one cancellation. Amounts are in
// major currency units rounded to two decimals.
type RefundCalculation struct {
	RefundEligible       bool            `json:"refund_eligible"`
	RefundPercentage     int             `json:"refund_percentage"`
	RefundAmount         decimal.Decimal `json:"refund_amount"`
	CancellationFee      decimal.Decimal `json:"cancellation_fee"`
	HoursBeforeDeparture float64         `json:"hours_before_departure"`
}

type CancellationStatus string

const (
	CancellationPending               CancellationStatus = "pending"
	CancellationCompleted             CancellationStatus = "completed"
	CancellationPendingReconciliation CancellationStatus = "pending_reconciliation"
)

// CancellationRecord is written once per cancelled payment intent. Only Status,
// Action and UpdatedAt change after creation.
type CancellationRecord struct {
	ID              string             `json:"id"`
	PaymentIntentID string             `json:"payment_intent_id"`
	RideID          string             `json:"ride_id"`
	BookingID       string             `json:"booking_id,omitempty"`
	CancelledBy     string             `json:"cancelled_by"`
	CancelledByRole CancellerRole      `json:"cancelled_by_role"`
	Reason          string             `json:"reason"`
	CancelledAt     time.Time          `json:"cancelled_at"`
	DepartureTime   time.Time          `json:"departure_time"`
	Calculation     RefundCalculation  `json:"calculation"`
	Action          HistoryStatus      `json:"action,omitempty"`
	Status          CancellationStatus `json:"status"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}
