package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/ride-payments/internal/interfaces"
	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
	"github.com/akylbek/payment-system/ride-payments/internal/worker"
)

type BatchRunner interface {
	RunBatch(ctx context.Context, opts worker.BatchOptions) (*worker.BatchResult, error)
}

type CaptureJobHandler struct {
	runner     BatchRunner
	queue      interfaces.CaptureQueueRepository
	secret     string
	staleAfter time.Duration
}

func NewCaptureJobHandler(runner BatchRunner, queue interfaces.CaptureQueueRepository, secret string, staleAfter time.Duration) *CaptureJobHandler {
	return &CaptureJobHandler{runner: runner, queue: queue, secret: secret, staleAfter: staleAfter}
}

// RunCaptureJob is the scheduler entry point for one worker invocation.
func (h *CaptureJobHandler) RunCaptureJob(c *gin.Context) {
	if !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "capture worker is not configured"})
		return
	}

	var opts worker.BatchOptions
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if opts.BatchSize < 0 || opts.MaxAttempts < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "batchSize and maxAttempts must be positive"})
		return
	}

	result, err := h.runner.RunBatch(c.Request.Context(), opts)
	if err != nil {
		telemetry.Logger.Error("Capture job failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type enqueueRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
	RideID          string `json:"ride_id" binding:"required"`
	AmountCents     int64  `json:"amount_cents" binding:"required,gt=0"`
}

func (h *CaptureJobHandler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	entry, err := h.queue.Enqueue(c.Request.Context(), &models.CaptureQueueEntry{
		ID:              "cq_" + uuid.NewString(),
		PaymentIntentID: req.PaymentIntentID,
		RideID:          req.RideID,
		AmountCents:     req.AmountCents,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, entry)
}

// RecoverStale resets entries stuck in processing. Operators call it; the
// worker never does.
func (h *CaptureJobHandler) RecoverStale(c *gin.Context) {
	if !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	n, err := h.queue.ResetStale(c.Request.Context(), time.Now().Add(-h.staleAfter))
	if err != nil {
		writeError(c, err)
		return
	}
	telemetry.Logger.Info("Reset stale capture entries", zap.Int64("count", n))
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

func (h *CaptureJobHandler) authorized(c *gin.Context) bool {
	if h.secret == "" {
		return true
	}
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
