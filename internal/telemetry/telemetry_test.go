package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func recordTelemetry(t *testing.T) (*tracetest.SpanRecorder, *observer.ObservedLogs) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	core, logs := observer.New(zapcore.InfoLevel)

	prevTracer, prevLogger := Tracer, Logger
	Tracer, Logger = tp.Tracer("test"), zap.New(core)
	t.Cleanup(func() { Tracer, Logger = prevTracer, prevLogger })
	return sr, logs
}

func tracedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TracingMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/payments/:id/capture", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/payments/:id/refund", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r
}

func attr(kvs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingMiddleware_TagsPaymentIntent(t *testing.T) {
	sr, logs := recordTelemetry(t)
	w := httptest.NewRecorder()

	tracedRouter().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/payments/pi_42/capture", nil))

	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /payments/:id/capture", spans[0].Name())
	id, ok := attr(spans[0].Attributes(), "payment_intent.id")
	require.True(t, ok)
	assert.Equal(t, "pi_42", id.AsString())
	status, _ := attr(spans[0].Attributes(), "http.status_code")
	assert.Equal(t, int64(http.StatusOK), status.AsInt64())

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pi_42", entries[0].ContextMap()["payment_intent_id"])
	assert.Equal(t, w.Header().Get("X-Trace-ID"), entries[0].ContextMap()["trace_id"])
}

func TestTracingMiddleware_RouteWithoutIntent(t *testing.T) {
	sr, logs := recordTelemetry(t)

	tracedRouter().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	_, ok := attr(spans[0].Attributes(), "payment_intent.id")
	assert.False(t, ok)
	require.Equal(t, 1, logs.Len())
	assert.NotContains(t, logs.All()[0].ContextMap(), "payment_intent_id")
}

func TestTracingMiddleware_ServerErrorMarksSpan(t *testing.T) {
	sr, logs := recordTelemetry(t)

	tracedRouter().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/payments/pi_7/refund", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	entries := logs.FilterMessage("HTTP request failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "pi_7", entries[0].ContextMap()["payment_intent_id"])
}

func TestInitTelemetry_RequiresEndpoint(t *testing.T) {
	prev := Logger

	err := InitTelemetry("ride-payments", "")

	assert.Error(t, err)
	assert.Same(t, prev, Logger)
}
