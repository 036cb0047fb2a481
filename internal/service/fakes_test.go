package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/akylbek/payment-system/ride-payments/internal/interfaces"
	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

type fakeIntents struct {
	mu        sync.Mutex
	intents   map[string]*models.PaymentIntent
	history   []models.PaymentHistoryEntry
	referrals map[string]int
	failWrite error
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{intents: map[string]*models.PaymentIntent{}, referrals: map[string]int{}}
}

func (f *fakeIntents) put(p *models.PaymentIntent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.intents[p.ID] = &cp
}

func (f *fakeIntents) Create(_ context.Context, p *models.PaymentIntent) error {
	f.put(p)
	return nil
}

func (f *fakeIntents) GetByID(_ context.Context, id string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.intents[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, models.ErrNotFound)
	}
	cp := *p
	cp.Metadata = map[string]string{}
	for k, v := range p.Metadata {
		cp.Metadata[k] = v
	}
	return &cp, nil
}

func (f *fakeIntents) TransitionStatus(_ context.Context, id string, from, to models.PaymentStatus, u models.PaymentUpdate) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return 0, f.failWrite
	}
	p, ok := f.intents[id]
	if !ok || p.Status != from {
		return 0, nil
	}
	p.Status = to
	if p.ExternalID == "" {
		p.ExternalID = u.ExternalID
	}
	if u.AmountCaptured > 0 {
		p.AmountCaptured = u.AmountCaptured
	}
	if u.CapturedAt != nil {
		p.CapturedAt = u.CapturedAt
	}
	if u.CanceledAt != nil {
		p.CanceledAt = u.CanceledAt
	}
	if u.CancellationReason != "" {
		p.CancellationReason = u.CancellationReason
	}
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	for k, v := range u.Metadata {
		p.Metadata[k] = v
	}
	return 1, nil
}

func (f *fakeIntents) AddRefund(_ context.Context, id string, amount int64, meta map[string]string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.intents[id]
	if !ok || p.Status != models.StatusSucceeded || p.AmountRefunded+amount > p.AmountCaptured {
		return 0, nil
	}
	p.AmountRefunded += amount
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	for k, v := range meta {
		p.Metadata[k] = v
	}
	return 1, nil
}

func (f *fakeIntents) AppendHistory(_ context.Context, e models.PaymentHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, e)
	return nil
}

func (f *fakeIntents) ReferralDiscountPercent(_ context.Context, code string) (int, error) {
	pct, ok := f.referrals[code]
	if !ok {
		return 0, models.ErrNotFound
	}
	return pct, nil
}

func (f *fakeIntents) historyStatuses(id string) []models.HistoryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.HistoryStatus
	for _, h := range f.history {
		if h.PaymentIntentID == id {
			out = append(out, h.Status)
		}
	}
	return out
}

type fakeCancellations struct {
	mu      sync.Mutex
	records map[string]*models.CancellationRecord
	// completeErr fails the next move to completed, once.
	completeErr error
}

func newFakeCancellations() *fakeCancellations {
	return &fakeCancellations{records: map[string]*models.CancellationRecord{}}
}

func (f *fakeCancellations) CreateIfAbsent(_ context.Context, rec *models.CancellationRecord) (*models.CancellationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.records[rec.PaymentIntentID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *rec
	f.records[rec.PaymentIntentID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeCancellations) UpdateStatus(_ context.Context, id string, status models.CancellationStatus, action models.HistoryStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == models.CancellationCompleted && f.completeErr != nil {
		err := f.completeErr
		f.completeErr = nil
		return err
	}
	for _, r := range f.records {
		if r.ID == id && r.Status != models.CancellationCompleted {
			r.Status = status
			r.Action = action
			r.ErrorMessage = errMsg
		}
	}
	return nil
}

type fakeGateway struct {
	mu             sync.Mutex
	authorizeErr   error
	authorizeState models.PaymentStatus
	captureErr     error
	cancelErr      error
	refundErr      error

	authorizeCalls int
	captureCalls   []int64
	cancelCalls    int
	refundCalls    []int64
}

func (g *fakeGateway) Authorize(_ context.Context, req interfaces.AuthorizeRequest) (*interfaces.AuthorizeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorizeCalls++
	if g.authorizeErr != nil {
		return nil, g.authorizeErr
	}
	status := g.authorizeState
	if status == "" {
		status = models.StatusAuthorized
	}
	return &interfaces.AuthorizeResult{ExternalID: fmt.Sprintf("ext_%d", g.authorizeCalls), Status: status}, nil
}

func (g *fakeGateway) Capture(_ context.Context, _ string, amount int64) (*interfaces.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureCalls = append(g.captureCalls, amount)
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &interfaces.CaptureResult{CapturedAmount: amount, Status: models.StatusSucceeded}, nil
}

func (g *fakeGateway) Cancel(_ context.Context, _, _ string) (models.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	if g.cancelErr != nil {
		return "", g.cancelErr
	}
	return models.StatusCanceled, nil
}

func (g *fakeGateway) Refund(_ context.Context, _ string, amount int64, _ string) (*interfaces.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls = append(g.refundCalls, amount)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &interfaces.RefundResult{RefundID: "re_1", AmountRefunded: amount}, nil
}

type fakeOutbox struct {
	mu   sync.Mutex
	msgs []*models.OutboxMessage
	err  error
}

func (f *fakeOutbox) Add(_ context.Context, m *models.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeOutbox) FetchUnpublished(context.Context, int) ([]*models.OutboxMessage, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(context.Context, string) error { return nil }

func (f *fakeOutbox) MarkFailed(context.Context, string, string) error { return nil }

func (f *fakeOutbox) byTopic(topic string) []*models.OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.OutboxMessage
	for _, m := range f.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, fmt.Errorf("%s: %w", key, models.ErrConflict)
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}
