package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	c.JSON(status, gin.H{"error": publicMessage(c, status, err)})
}

// publicMessage logs server errors and keeps their detail out of the response.
func publicMessage(c *gin.Context, status int, err error) string {
	if status != http.StatusInternalServerError {
		return err.Error()
	}
	telemetry.Logger.Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.String("payment_intent_id", c.Param("id")),
		zap.Error(err),
	)
	return "internal error"
}

// bindOptional accepts an empty body; it writes a 400 and returns false on
// malformed JSON.
func bindOptional(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}
