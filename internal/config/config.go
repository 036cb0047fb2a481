package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   []string
	NatsURL        string
	JaegerEndpoint string
	Port           string

	StripeSecretKey string
	Currency        string

	CaptureBatchSize   int
	CaptureMaxAttempts int
	CaptureItemDelay   time.Duration
	CaptureStaleAfter  time.Duration
	WorkerSecret       string

	OutboxPollInterval time.Duration
	PaymentLockTTL     time.Duration
}

func Load() *Config {
	return &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getEnv("REDIS_URL", "localhost:6379"),
		KafkaBrokers:   strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		NatsURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "jaeger:4318"),
		Port:           getEnv("PORT", "8084"),

		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		Currency:        getEnv("PAYMENT_CURRENCY", "usd"),

		CaptureBatchSize:   getInt("CAPTURE_BATCH_SIZE", 10),
		CaptureMaxAttempts: getInt("CAPTURE_MAX_ATTEMPTS", 5),
		CaptureItemDelay:   getDuration("CAPTURE_ITEM_DELAY", 500*time.Millisecond),
		CaptureStaleAfter:  getDuration("CAPTURE_STALE_AFTER", 15*time.Minute),
		WorkerSecret:       os.Getenv("WORKER_SHARED_SECRET"),

		OutboxPollInterval: getDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		PaymentLockTTL:     getDuration("PAYMENT_LOCK_TTL", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
