package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_payments_transitions_total",
		Help: "Payment intent status transitions.",
	}, []string{"from", "to"})

	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_payments_gateway_calls_total",
		Help: "Calls to the card processor by operation and outcome.",
	}, []string{"operation", "outcome"})

	CaptureQueueItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_payments_capture_queue_items_total",
		Help: "Capture queue entries handled by the worker, by outcome.",
	}, []string{"outcome"})

	CaptureBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ride_payments_capture_batch_duration_seconds",
		Help:    "Wall time of one capture worker invocation.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_payments_outbox_published_total",
		Help: "Outbox messages relayed, by sink and outcome.",
	}, []string{"sink", "outcome"})

	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_payments_side_effect_failures_total",
		Help: "Best-effort writes (history, outbox) that failed.",
	}, []string{"kind"})
)

func ObserveGatewayCall(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	GatewayCalls.WithLabelValues(operation, outcome).Inc()
}
