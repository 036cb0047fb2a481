package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/ride-payments/internal/handlers"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
)

func NewRouter(payments *handlers.PaymentHandler, jobs *handlers.CaptureJobHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "ride-payments"})
	})

	// Payment routes
	p := r.Group("/payments")
	p.POST("/authorize", payments.Authorize)
	p.GET("/:id", payments.GetPayment)
	p.POST("/:id/capture", payments.Capture)
	p.POST("/:id/cancel", payments.Cancel)
	p.POST("/:id/refund", payments.Refund)
	p.POST("/:id/cancel-with-policy", payments.CancelWithPolicy)

	// Capture queue
	r.POST("/capture-queue", jobs.Enqueue)
	r.POST("/jobs/capture", jobs.RunCaptureJob)
	r.POST("/admin/capture-queue/recover", jobs.RecoverStale)

	return r
}
