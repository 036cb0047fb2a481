// Package policy prices ride cancellations.
package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

const (
	FullRefundHours    = 24
	PartialRefundHours = 12
	PartialRefundPct   = 50
)

var hundred = decimal.NewFromInt(100)

// CalculateRefund prices a cancellation of one booking. originalAmount must be
// that booking's own price, not a ride total. The fee is always derived as
// originalAmount minus the refund so the two add up exactly.
func CalculateRefund(departure time.Time, originalAmount decimal.Decimal, cancelledAt time.Time, role models.CancellerRole) models.RefundCalculation {
	hours := HoursBeforeDeparture(departure, cancelledAt)

	pct := passengerPercentage(hours)
	if role == models.RoleDriver {
		pct = 100
	}

	original := originalAmount.Round(2)
	refund := original.Mul(decimal.NewFromInt(int64(pct))).Div(hundred).Round(2)

	return models.RefundCalculation{
		RefundEligible:       pct > 0,
		RefundPercentage:     pct,
		RefundAmount:         refund,
		CancellationFee:      original.Sub(refund),
		HoursBeforeDeparture: hours,
	}
}

// ReleasedHold prices a booking whose hold was already released before any
// policy applied. Nothing was charged, so the whole amount counts as returned.
func ReleasedHold(departure time.Time, originalAmount decimal.Decimal, cancelledAt time.Time) models.RefundCalculation {
	return models.RefundCalculation{
		RefundEligible:       true,
		RefundPercentage:     100,
		RefundAmount:         originalAmount.Round(2),
		CancellationFee:      decimal.Zero,
		HoursBeforeDeparture: HoursBeforeDeparture(departure, cancelledAt),
	}
}

// HoursBeforeDeparture is negative when the cancellation comes after departure.
func HoursBeforeDeparture(departure, cancelledAt time.Time) float64 {
	return decimal.NewFromFloat(departure.Sub(cancelledAt).Hours()).Round(2).InexactFloat64()
}

func passengerPercentage(hours float64) int {
	switch {
	case hours >= FullRefundHours:
		return 100
	case hours >= PartialRefundHours:
		return PartialRefundPct
	default:
		return 0
	}
}

// MinorUnits converts a two-decimal amount into integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// MajorUnits converts integer minor units into a two-decimal amount.
func MajorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
