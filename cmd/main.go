package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/ride-payments/internal/api"
	"github.com/akylbek/payment-system/ride-payments/internal/config"
	"github.com/akylbek/payment-system/ride-payments/internal/gateway"
	"github.com/akylbek/payment-system/ride-payments/internal/handlers"
	"github.com/akylbek/payment-system/ride-payments/internal/lock"
	"github.com/akylbek/payment-system/ride-payments/internal/outbox"
	"github.com/akylbek/payment-system/ride-payments/internal/repository"
	"github.com/akylbek/payment-system/ride-payments/internal/service"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
	"github.com/akylbek/payment-system/ride-payments/internal/worker"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry("ride-payments", cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Ride Payments")

	if cfg.StripeSecretKey == "" {
		telemetry.Logger.Fatal("STRIPE_SECRET_KEY is required")
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.InitDB(context.Background(), db); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	intents := repository.NewPaymentIntentRepository(db)
	cancellations := repository.NewCancellationRepository(db)
	queue := repository.NewCaptureQueueRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()

	// Connect to NATS
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	// Connect to Kafka; topic is taken from each message
	kafkaWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Balancer: &kafka.LeastBytes{},
	}
	defer kafkaWriter.Close()

	lifecycle := service.NewPaymentLifecycle(
		intents,
		cancellations,
		gateway.NewStripeGateway(cfg.StripeSecretKey),
		outboxRepo,
		lock.NewRedisLocker(redisClient, cfg.PaymentLockTTL),
		cfg.Currency,
	)

	captureWorker := worker.NewCaptureWorker(queue, intents, lifecycle, worker.Config{
		BatchSize:   cfg.CaptureBatchSize,
		MaxAttempts: cfg.CaptureMaxAttempts,
		ItemDelay:   cfg.CaptureItemDelay,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	relay := outbox.NewRelay(outboxRepo, outbox.NewKafkaSink(kafkaWriter), outbox.NewNatsSink(nc), cfg.OutboxPollInterval)
	go relay.Run(ctx)

	rideReader := service.NewRideCompletedReader(cfg.KafkaBrokers)
	defer rideReader.Close()
	go service.NewRideEventConsumer(rideReader, queue).Run(ctx)

	r := api.NewRouter(
		handlers.NewPaymentHandler(lifecycle),
		handlers.NewCaptureJobHandler(captureWorker, queue, cfg.WorkerSecret, cfg.CaptureStaleAfter),
	)

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Ride Payments starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
