package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

type memQueue struct {
	mu       sync.Mutex
	entries  map[string]*models.CaptureQueueEntry
	claimErr error
}

func newMemQueue() *memQueue {
	return &memQueue{entries: map[string]*models.CaptureQueueEntry{}}
}

func (q *memQueue) add(id, intentID string, created time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[id] = &models.CaptureQueueEntry{
		ID:              id,
		PaymentIntentID: intentID,
		RideID:          "ride_" + intentID,
		Status:          models.QueuePending,
		CreatedAt:       created,
	}
}

func (q *memQueue) get(id string) models.CaptureQueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.entries[id]
}

func (q *memQueue) Enqueue(_ context.Context, e *models.CaptureQueueEntry) (*models.CaptureQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *e
	cp.Status = models.QueuePending
	q.entries[e.ID] = &cp
	return &cp, nil
}

func (q *memQueue) Claim(_ context.Context, batchSize, maxAttempts int) ([]*models.CaptureQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	var pending []*models.CaptureQueueEntry
	for _, e := range q.entries {
		if e.Status == models.QueuePending && e.Attempts < maxAttempts {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > batchSize {
		pending = pending[:batchSize]
	}
	out := make([]*models.CaptureQueueEntry, 0, len(pending))
	for _, e := range pending {
		e.Status = models.QueueProcessing
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (q *memQueue) RecordAttempt(_ context.Context, id string, at time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.entries[id]
	e.Attempts++
	e.LastAttemptAt = &at
	return e.Attempts, nil
}

func (q *memQueue) move(id string, to models.QueueStatus, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.entries[id]
	if !e.Status.CanTransitionTo(to) {
		return fmt.Errorf("entry %s is %s: %w", id, e.Status, models.ErrInvalidState)
	}
	e.Status = to
	e.ErrorMessage = msg
	return nil
}

func (q *memQueue) Complete(_ context.Context, id string) error {
	return q.move(id, models.QueueCompleted, "")
}

func (q *memQueue) Release(_ context.Context, id, msg string) error {
	return q.move(id, models.QueuePending, msg)
}

func (q *memQueue) Fail(_ context.Context, id, msg string) error {
	return q.move(id, models.QueueFailed, msg)
}

func (q *memQueue) ResetStale(context.Context, time.Time) (int64, error) { return 0, nil }

type memIntents struct {
	mu       sync.Mutex
	status   map[string]models.PaymentStatus
	captured map[string]int64
	meta     map[string]map[string]string
	readErr  error
}

func newMemIntents() *memIntents {
	return &memIntents{
		status:   map[string]models.PaymentStatus{},
		captured: map[string]int64{},
		meta:     map[string]map[string]string{},
	}
}

func (m *memIntents) GetByID(_ context.Context, id string) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	s, ok := m.status[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, models.ErrNotFound)
	}
	return &models.PaymentIntent{
		ID:             id,
		Status:         s,
		AmountTotal:    4000,
		AmountCaptured: m.captured[id],
		Metadata:       m.meta[id],
	}, nil
}

// stubCapturer behaves like the lifecycle: it refuses non-eligible intents
// and moves captured ones to succeeded.
type stubCapturer struct {
	intents *memIntents
	errs    map[string]error
	calls   []string
}

func (c *stubCapturer) CaptureOnCompletion(_ context.Context, id string, _ int64) (*models.PaymentIntent, error) {
	c.calls = append(c.calls, id)
	if err := c.errs[id]; err != nil {
		return nil, err
	}
	c.intents.mu.Lock()
	defer c.intents.mu.Unlock()
	if !c.intents.status[id].CaptureEligible() {
		return nil, fmt.Errorf("%s: %w", id, models.ErrInvalidState)
	}
	c.intents.status[id] = models.StatusSucceeded
	c.intents.captured[id] = 4000
	return &models.PaymentIntent{ID: id, Status: models.StatusSucceeded, AmountCaptured: 4000}, nil
}

type fixture struct {
	queue    *memQueue
	intents  *memIntents
	capturer *stubCapturer
	worker   *CaptureWorker
	sleeps   int
}

func newFixture(cfg Config) *fixture {
	f := &fixture{queue: newMemQueue(), intents: newMemIntents()}
	f.capturer = &stubCapturer{intents: f.intents, errs: map[string]error{}}
	f.worker = NewCaptureWorker(f.queue, f.intents, f.capturer, cfg)
	f.worker.sleep = func(ctx context.Context, _ time.Duration) error {
		f.sleeps++
		return ctx.Err()
	}
	return f
}

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func (f *fixture) enqueue(n int, status models.PaymentStatus) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("pi_%02d", i)
		f.intents.status[id] = status
		f.queue.add(fmt.Sprintf("cq_%02d", i), id, base.Add(time.Duration(i)*time.Minute))
	}
}

func TestRunBatch_EmptyQueue(t *testing.T) {
	f := newFixture(Config{})

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Zero(t, res.Processed)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
}

func TestRunBatch_CapturesInCreationOrder(t *testing.T) {
	f := newFixture(Config{})
	f.enqueue(3, models.StatusAuthorized)

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, []string{"pi_00", "pi_01", "pi_02"}, f.capturer.calls)
	assert.Equal(t, 2, f.sleeps)
	for i := 0; i < 3; i++ {
		e := f.queue.get(fmt.Sprintf("cq_%02d", i))
		assert.Equal(t, models.QueueCompleted, e.Status)
		assert.Equal(t, 1, e.Attempts)
	}
}

func TestRunBatch_DrainsBacklogAcrossInvocations(t *testing.T) {
	f := newFixture(Config{BatchSize: 10})
	f.enqueue(15, models.StatusAuthorized)

	first, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 10, first.Processed)
	assert.Equal(t, "pi_00", first.Results[0].PaymentID)
	assert.Equal(t, "pi_09", first.Results[9].PaymentID)

	second, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, second.Processed)
	assert.Equal(t, "pi_10", second.Results[0].PaymentID)

	third, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, third.Processed)
}

func TestRunBatch_AlreadyCapturedIntentIsNotChargedAgain(t *testing.T) {
	f := newFixture(Config{})
	f.intents.status["pi_1"] = models.StatusAuthorized
	f.queue.add("cq_a", "pi_1", base)
	f.queue.add("cq_b", "pi_1", base.Add(time.Minute))

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Equal(t, []string{"pi_1"}, f.capturer.calls)
	assert.Equal(t, models.QueueCompleted, f.queue.get("cq_a").Status)

	dup := f.queue.get("cq_b")
	assert.Equal(t, models.QueueCompleted, dup.Status)
	assert.Zero(t, dup.Attempts)
}

func TestRunBatch_CompletesEntryCapturedOnEarlierPass(t *testing.T) {
	f := newFixture(Config{})
	f.intents.status["pi_1"] = models.StatusSucceeded
	f.intents.captured["pi_1"] = 4000
	f.queue.add("cq_1", "pi_1", base)

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Succeeded)
	assert.True(t, res.Results[0].Success)
	assert.Empty(t, f.capturer.calls)
	e := f.queue.get("cq_1")
	assert.Equal(t, models.QueueCompleted, e.Status)
	assert.Zero(t, e.Attempts)
}

func TestRunBatch_CancellationFeeCaptureFailsEntry(t *testing.T) {
	f := newFixture(Config{})
	f.intents.status["pi_1"] = models.StatusSucceeded
	f.intents.captured["pi_1"] = 2000
	f.intents.meta["pi_1"] = map[string]string{models.MetaCancellationAction: string(models.HistoryPartialRefund)}
	f.queue.add("cq_1", "pi_1", base)

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, f.capturer.calls)
	e := f.queue.get("cq_1")
	assert.Equal(t, models.QueueFailed, e.Status)
	assert.Contains(t, e.ErrorMessage, "succeeded")
}

func TestRunBatch_StaleEntries(t *testing.T) {
	f := newFixture(Config{})
	f.intents.status["pi_canceled"] = models.StatusCanceled
	f.queue.add("cq_1", "pi_canceled", base)
	f.queue.add("cq_2", "pi_missing", base.Add(time.Minute))

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Failed)
	assert.Empty(t, f.capturer.calls)
	assert.Equal(t, models.QueueFailed, f.queue.get("cq_1").Status)
	assert.Equal(t, models.QueueFailed, f.queue.get("cq_2").Status)
	assert.Contains(t, res.Results[1].Error, "not found")
}

func TestRunBatch_RetriesUntilMaxAttempts(t *testing.T) {
	f := newFixture(Config{MaxAttempts: 3})
	f.enqueue(1, models.StatusAuthorized)
	f.capturer.errs["pi_00"] = fmt.Errorf("stripe timeout: %w", models.ErrGateway)
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		res, err := f.worker.RunBatch(ctx, BatchOptions{})
		require.NoError(t, err)
		require.Equal(t, 1, res.Processed, "attempt %d", attempt)
		assert.False(t, res.Results[0].Success)
		assert.Equal(t, attempt, f.queue.get("cq_00").Attempts)
	}

	e := f.queue.get("cq_00")
	assert.Equal(t, models.QueueFailed, e.Status)
	assert.Contains(t, e.ErrorMessage, "stripe timeout")

	res, err := f.worker.RunBatch(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Len(t, f.capturer.calls, 3)
}

func TestRunBatch_RetryableFailureReturnsToPending(t *testing.T) {
	f := newFixture(Config{})
	f.enqueue(1, models.StatusAuthorized)
	f.capturer.errs["pi_00"] = fmt.Errorf("locked: %w", models.ErrConflict)

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	e := f.queue.get("cq_00")
	assert.Equal(t, models.QueuePending, e.Status)
	assert.Equal(t, 1, e.Attempts)
}

func TestRunBatch_NonRetryableFailsImmediately(t *testing.T) {
	f := newFixture(Config{})
	f.enqueue(1, models.StatusAuthorized)
	f.capturer.errs["pi_00"] = fmt.Errorf("amount: %w", models.ErrValidation)

	_, err := f.worker.RunBatch(context.Background(), BatchOptions{})
	require.NoError(t, err)

	e := f.queue.get("cq_00")
	assert.Equal(t, models.QueueFailed, e.Status)
	assert.Equal(t, 1, e.Attempts)
}

func TestRunBatch_PersistenceFailureAbortsBatch(t *testing.T) {
	f := newFixture(Config{})
	f.enqueue(3, models.StatusAuthorized)
	f.capturer.errs["pi_01"] = fmt.Errorf("update: %w", models.ErrPersistence)

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{})

	require.ErrorIs(t, err, models.ErrPersistence)
	assert.Nil(t, res)
	assert.Equal(t, models.QueueCompleted, f.queue.get("cq_00").Status)
	assert.Equal(t, models.QueuePending, f.queue.get("cq_02").Status)
	assert.Equal(t, []string{"pi_00", "pi_01"}, f.capturer.calls)
}

func TestRunBatch_ClaimFailure(t *testing.T) {
	f := newFixture(Config{})
	f.queue.claimErr = fmt.Errorf("connection refused: %w", models.ErrPersistence)

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{})

	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Nil(t, res)
}

func TestRunBatch_OptionsOverrideConfig(t *testing.T) {
	f := newFixture(Config{BatchSize: 10})
	f.enqueue(5, models.StatusAuthorized)

	res, err := f.worker.RunBatch(context.Background(), BatchOptions{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
}

func TestRunBatch_CancelledContextReleasesRemaining(t *testing.T) {
	f := newFixture(Config{})
	f.enqueue(3, models.StatusAuthorized)
	ctx, cancel := context.WithCancel(context.Background())
	f.worker.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := f.worker.RunBatch(ctx, BatchOptions{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.QueueCompleted, f.queue.get("cq_00").Status)
	assert.Equal(t, models.QueuePending, f.queue.get("cq_01").Status)
	assert.Equal(t, models.QueuePending, f.queue.get("cq_02").Status)
}

func TestNewCaptureWorker_Defaults(t *testing.T) {
	w := NewCaptureWorker(newMemQueue(), newMemIntents(), &stubCapturer{}, Config{ItemDelay: -time.Second})

	assert.Equal(t, DefaultBatchSize, w.cfg.BatchSize)
	assert.Equal(t, DefaultMaxAttempts, w.cfg.MaxAttempts)
	assert.Zero(t, w.cfg.ItemDelay)
}
