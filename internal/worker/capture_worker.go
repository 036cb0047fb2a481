// Package worker drains the capture queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/ride-payments/internal/interfaces"
	"github.com/akylbek/payment-system/ride-payments/internal/models"
	"github.com/akylbek/payment-system/ride-payments/internal/telemetry"
)

const (
	DefaultBatchSize   = 10
	DefaultMaxAttempts = 5
	DefaultItemDelay   = 500 * time.Millisecond
)

type IntentReader interface {
	GetByID(ctx context.Context, id string) (*models.PaymentIntent, error)
}

type Capturer interface {
	CaptureOnCompletion(ctx context.Context, id string, amount int64) (*models.PaymentIntent, error)
}

type Config struct {
	BatchSize   int
	MaxAttempts int
	// ItemDelay spaces consecutive captures to bound the gateway request rate.
	ItemDelay time.Duration
}

type BatchOptions struct {
	BatchSize   int `json:"batchSize"`
	MaxAttempts int `json:"maxAttempts"`
}

type EntryResult struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId"`
	Error     string `json:"error,omitempty"`
}

type BatchResult struct {
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []EntryResult `json:"results"`
}

func (r *BatchResult) add(e EntryResult) {
	r.Processed++
	if e.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
	r.Results = append(r.Results, e)
}

// CaptureWorker is stateless between invocations; the queue rows carry all
// state. Entries within one batch are captured strictly one after another.
type CaptureWorker struct {
	queue    interfaces.CaptureQueueRepository
	intents  IntentReader
	capturer Capturer
	cfg      Config
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

func NewCaptureWorker(queue interfaces.CaptureQueueRepository, intents IntentReader, capturer Capturer, cfg Config) *CaptureWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	return &CaptureWorker{
		queue:    queue,
		intents:  intents,
		capturer: capturer,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// RunBatch performs one invocation. Business failures of single entries are
// reported in the result; an error is returned only when the queue or the
// store cannot be used at all.
func (w *CaptureWorker) RunBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "CaptureWorker.RunBatch")
	defer span.End()

	start := time.Now()
	defer func() { telemetry.CaptureBatchDuration.Observe(time.Since(start).Seconds()) }()

	batchSize, maxAttempts := opts.BatchSize, opts.MaxAttempts
	if batchSize <= 0 {
		batchSize = w.cfg.BatchSize
	}
	if maxAttempts <= 0 {
		maxAttempts = w.cfg.MaxAttempts
	}
	span.SetAttributes(attribute.Int("batch_size", batchSize), attribute.Int("max_attempts", maxAttempts))

	entries, err := w.queue.Claim(ctx, batchSize, maxAttempts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("claim capture queue: %w", err)
	}

	result := &BatchResult{Success: true, Results: []EntryResult{}}
	if len(entries) == 0 {
		return result, nil
	}

	telemetry.Logger.Info("Processing capture batch", zap.Int("claimed", len(entries)))

	for i, entry := range entries {
		if i > 0 {
			if err := w.sleep(ctx, w.cfg.ItemDelay); err != nil {
				w.releaseUnprocessed(entries[i:], "worker stopped before processing")
				return nil, err
			}
		}

		res, err := w.processEntry(ctx, entry, maxAttempts)
		if err != nil {
			span.RecordError(err)
			telemetry.Logger.Error("Aborting capture batch",
				zap.String("entry_id", entry.ID),
				zap.Error(err),
			)
			w.releaseUnprocessed(entries[i+1:], "batch aborted")
			return nil, err
		}
		result.add(res)
	}

	span.SetAttributes(
		attribute.Int("succeeded", result.Succeeded),
		attribute.Int("failed", result.Failed),
	)
	telemetry.Logger.Info("Capture batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (w *CaptureWorker) processEntry(ctx context.Context, e *models.CaptureQueueEntry, maxAttempts int) (EntryResult, error) {
	res := EntryResult{PaymentID: e.PaymentIntentID}

	// Re-read right before acting; the entry may be stale against
	// out-of-band changes to the intent.
	p, err := w.intents.GetByID(ctx, e.PaymentIntentID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return res, err
	}
	if err == nil && capturedOutOfBand(p) {
		// The money moved on an earlier pass whose Complete was lost.
		if err := w.queue.Complete(ctx, e.ID); err != nil {
			return res, err
		}
		telemetry.CaptureQueueItems.WithLabelValues("completed").Inc()
		telemetry.Logger.Info("Capture already applied, completing entry",
			zap.String("entry_id", e.ID),
			zap.String("payment_intent_id", p.ID),
			zap.Int64("amount_captured", p.AmountCaptured),
		)
		res.Success = true
		return res, nil
	}
	if err != nil || !p.Status.CaptureEligible() {
		msg := fmt.Sprintf("payment intent %s not found", e.PaymentIntentID)
		if p != nil {
			msg = fmt.Sprintf("payment intent %s is %s, not capturable", p.ID, p.Status)
		}
		return w.fail(ctx, e, res, msg)
	}

	attempts, err := w.queue.RecordAttempt(ctx, e.ID, w.now())
	if err != nil {
		return res, err
	}

	_, err = w.capturer.CaptureOnCompletion(ctx, p.ID, e.AmountCents)
	if err == nil {
		if err := w.queue.Complete(ctx, e.ID); err != nil {
			return res, err
		}
		telemetry.CaptureQueueItems.WithLabelValues("completed").Inc()
		telemetry.Logger.Info("Capture completed",
			zap.String("entry_id", e.ID),
			zap.String("payment_intent_id", p.ID),
			zap.Int("attempts", attempts),
		)
		res.Success = true
		return res, nil
	}

	if errors.Is(err, models.ErrPersistence) {
		return res, err
	}
	if !models.Retryable(err) || attempts >= maxAttempts {
		return w.fail(ctx, e, res, err.Error())
	}

	if rerr := w.queue.Release(ctx, e.ID, err.Error()); rerr != nil {
		return res, rerr
	}
	telemetry.CaptureQueueItems.WithLabelValues("retry").Inc()
	telemetry.Logger.Warn("Capture failed, will retry",
		zap.String("entry_id", e.ID),
		zap.String("payment_intent_id", p.ID),
		zap.Int("attempts", attempts),
		zap.Int("max_attempts", maxAttempts),
		zap.Error(err),
	)
	res.Error = err.Error()
	return res, nil
}

// capturedOutOfBand reports an intent charged by a completion capture. A
// succeeded intent carrying a cancellation action was charged a cancellation
// fee instead and must not satisfy a ride capture entry.
func capturedOutOfBand(p *models.PaymentIntent) bool {
	return p.Status == models.StatusSucceeded &&
		p.AmountCaptured > 0 &&
		p.Metadata[models.MetaCancellationAction] == ""
}

func (w *CaptureWorker) fail(ctx context.Context, e *models.CaptureQueueEntry, res EntryResult, msg string) (EntryResult, error) {
	if err := w.queue.Fail(ctx, e.ID, msg); err != nil {
		return res, err
	}
	telemetry.CaptureQueueItems.WithLabelValues("failed").Inc()
	telemetry.Logger.Warn("Capture entry failed permanently",
		zap.String("entry_id", e.ID),
		zap.String("payment_intent_id", e.PaymentIntentID),
		zap.String("error", msg),
	)
	res.Error = msg
	return res, nil
}

// releaseUnprocessed hands claimed but untouched entries back to the queue.
// It runs on a fresh context since the batch context may be done.
func (w *CaptureWorker) releaseUnprocessed(entries []*models.CaptureQueueEntry, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, e := range entries {
		if err := w.queue.Release(ctx, e.ID, reason); err != nil {
			telemetry.Logger.Error("Failed to release claimed entry; needs recovery",
				zap.String("entry_id", e.ID),
				zap.Error(err),
			)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
