package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/service"
)

type PaymentService interface {
	AuthorizeForBooking(ctx context.Context, req service.AuthorizeRequest) (*models.PaymentIntent, error)
	Get(ctx context.Context, id string) (*models.PaymentIntent, error)
	CaptureOnCompletion(ctx context.Context, id string, amount int64) (*models.PaymentIntent, error)
	Cancel(ctx context.Context, id, reason string) (*models.PaymentIntent, error)
	Refund(ctx context.Context, id string, amount int64, reason string) (*models.PaymentIntent, error)
	CancelWithPolicy(ctx context.Context, req service.CancelRequest) (*service.CancellationOutcome, error)
}

type PaymentHandler struct {
	payments PaymentService
}

func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

func (h *PaymentHandler) Authorize(c *gin.Context) {
	var req service.AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	intent, err := h.payments.AuthorizeForBooking(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, intent)
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	intent, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

type amountRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *PaymentHandler) Capture(c *gin.Context) {
	var req amountRequest
	if !bindOptional(c, &req) {
		return
	}

	intent, err := h.payments.CaptureOnCompletion(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

func (h *PaymentHandler) Cancel(c *gin.Context) {
	var req amountRequest
	if !bindOptional(c, &req) {
		return
	}

	intent, err := h.payments.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	var req amountRequest
	if !bindOptional(c, &req) {
		return
	}

	intent, err := h.payments.Refund(c.Request.Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// CancelWithPolicy answers with the priced outcome even when the gateway step
// failed, so the caller always learns the refund terms.
func (h *PaymentHandler) CancelWithPolicy(c *gin.Context) {
	var req service.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.PaymentIntentID = c.Param("id")

	outcome, err := h.payments.CancelWithPolicy(c.Request.Context(), req)
	if err != nil {
		if outcome == nil {
			writeError(c, err)
			return
		}
		status := statusFor(err)
		c.JSON(status, gin.H{
			"error":          publicMessage(c, status, err),
			"cancellation":   outcome.Record,
			"payment_intent": outcome.Intent,
		})
		return
	}
	c.JSON(http.StatusOK, outcome)
}
