package engine

import (
	"context"
	"testing"
	"time"

	"github.com/duyttran/syncline/internal/core/domain"
	"github.com/duyttran/syncline/internal/infra/cloud"
	"github.com/duyttran/syncline/internal/infra/storage"
	"github.com/duyttran/syncline/internal/infra/storage/memory"
	"github.com/duyttran/syncline/internal/sync/breaker"
	"github.com/duyttran/syncline/internal/sync/retry"
	"github.com/duyttran/syncline/internal/sync/session"
)

// fakeSessionService always grants a valid session.
type fakeSessionService struct {
	startCalls    int
	completeCalls int
	lastStats     domain.CycleStats
}

func (f *fakeSessionService) StartSyncSession(ctx context.Context, storeID string) (*domain.SessionInfo, error) {
	f.startCalls++
	return &domain.SessionInfo{SessionID: "sess-1", RevocationStatus: domain.RevocationValid}, nil
}

func (f *fakeSessionService) CompleteSyncSession(ctx context.Context, sessionID string, lastSequence int64, stats domain.CycleStats) error {
	f.completeCalls++
	f.lastStats = stats
	return nil
}

// scriptedPusher returns per-item errors keyed by entity id.
type scriptedPusher struct {
	errs  map[string]error
	calls []string
}

func (p *scriptedPusher) Push(ctx context.Context, item *domain.QueueItem) error {
	p.calls = append(p.calls, item.EntityID)
	return p.errs[item.EntityID]
}

type harness struct {
	engine   *Engine
	queue    *memory.QueueRepo
	dlq      *memory.DeadLetterRepo
	pusher   *scriptedPusher
	svc      *fakeSessionService
	strategy *retry.Strategy
	breaker  *breaker.Breaker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewMemoryStorage()
	queue := memory.NewQueueRepo(store)
	dlq := memory.NewDeadLetterRepo(store)
	svc := &fakeSessionService{}
	pusher := &scriptedPusher{errs: make(map[string]error)}
	strategy := retry.NewStrategy(retry.Config{
		BaseDelay:    10 * time.Millisecond,
		MinBatchSize: 1,
		MaxBatchSize: 50,
		InitialBatch: 20,
	})
	b := breaker.New("cloud-api", breaker.Config{FailureThreshold: 100})

	eng := New(Config{
		Queue:      queue,
		DeadLetter: dlq,
		Strategy:   strategy,
		Breaker:    b,
		Sessions:   session.NewManager(svc, nil),
		Pusher:     pusher,
	})

	return &harness{engine: eng, queue: queue, dlq: dlq, pusher: pusher, svc: svc, strategy: strategy, breaker: b}
}

func enqueue(t *testing.T, h *harness, storeID, entityID string, priority int) *domain.QueueItem {
	t.Helper()
	item := &domain.QueueItem{
		StoreID:    storeID,
		EntityType: domain.EntityPack,
		EntityID:   entityID,
		Operation:  domain.OperationCreate,
		Priority:   priority,
	}
	if err := h.queue.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	return item
}

func TestRunOnce_SuccessMarksSynced(t *testing.T) {
	h := newHarness(t)
	item := enqueue(t, h, "store-1", "pack-1", domain.PriorityDefault)

	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got, err := h.queue.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.Synced {
		t.Error("item must be synced after a successful push")
	}
	if got.SyncedAt == nil {
		t.Error("synced_at must be set")
	}

	if h.svc.startCalls != 1 || h.svc.completeCalls != 1 {
		t.Errorf("session calls = %d/%d, want 1/1", h.svc.startCalls, h.svc.completeCalls)
	}
	if h.svc.lastStats.Pushed != 1 {
		t.Errorf("completed stats pushed = %d, want 1", h.svc.lastStats.Pushed)
	}
}

func TestRunOnce_TransientFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	item := enqueue(t, h, "store-1", "pack-1", domain.PriorityDefault)
	h.pusher.errs["pack-1"] = &cloud.APIError{
		StatusCode: 503,
		Message:    "Service Unavailable",
		Endpoint:   "/v1/stores/store-1/pack",
		Body:       "upstream overloaded",
	}

	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got, err := h.queue.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Synced || got.DeadLettered {
		t.Fatal("item must stay pending after a transient failure")
	}
	if got.SyncAttempts != 1 {
		t.Errorf("sync_attempts = %d, want 1", got.SyncAttempts)
	}
	if got.RetryAfter == nil || !got.RetryAfter.After(time.Now().Add(-time.Second)) {
		t.Errorf("retry_after not advanced: %v", got.RetryAfter)
	}
	if got.HTTPStatus != 503 {
		t.Errorf("http_status = %d, want 503", got.HTTPStatus)
	}
	if got.ResponseBody != "upstream overloaded" {
		t.Errorf("response_body = %q", got.ResponseBody)
	}
	if got.LastSyncError == "" {
		t.Error("last_sync_error must be recorded")
	}
}

func TestRunOnce_RetryAfterHintFloorsDelay(t *testing.T) {
	h := newHarness(t)
	item := enqueue(t, h, "store-1", "pack-1", domain.PriorityDefault)
	h.pusher.errs["pack-1"] = &cloud.APIError{
		StatusCode: 429,
		Message:    "Too Many Requests",
		RetryAfter: "300",
	}

	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got, _ := h.queue.GetByID(context.Background(), item.ID)
	if got.RetryAfter == nil {
		t.Fatal("retry_after must be set")
	}
	// Backoff for attempt 1 is ~10ms; the 300s server hint must win.
	if until := time.Until(*got.RetryAfter); until < 290*time.Second {
		t.Errorf("retry_after only %v away, Retry-After hint ignored", until)
	}
}

func TestRunOnce_StructuralFailureDeadLettersImmediately(t *testing.T) {
	h := newHarness(t)
	item := enqueue(t, h, "store-1", "pack-1", domain.PriorityDefault)
	h.pusher.errs["pack-1"] = &cloud.APIError{
		Message: "serialization failed: JSON parse error",
	}

	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got, _ := h.queue.GetByID(context.Background(), item.ID)
	if !got.DeadLettered {
		t.Fatal("structural failure must dead-letter on the first attempt")
	}
	if got.DeadLetterReason != domain.ReasonStructuralFailure {
		t.Errorf("reason = %s, want STRUCTURAL_FAILURE", got.DeadLetterReason)
	}
	if got.ErrorCategory != domain.CategoryStructural {
		t.Errorf("category = %s, want STRUCTURAL", got.ErrorCategory)
	}
}

func TestRunOnce_PermanentFailureExhaustsAttempts(t *testing.T) {
	h := newHarness(t)
	item := &domain.QueueItem{
		StoreID:     "store-1",
		EntityType:  domain.EntityEmployee,
		EntityID:    "emp-1",
		Operation:   domain.OperationUpdate,
		Priority:    domain.PriorityDefault,
		MaxAttempts: 2,
	}
	if err := h.queue.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	h.pusher.errs["emp-1"] = &cloud.APIError{StatusCode: 422, Message: "Unprocessable Entity"}

	// First attempt: retry scheduled.
	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	got, _ := h.queue.GetByID(context.Background(), item.ID)
	if got.DeadLettered {
		t.Fatal("dead-lettered before max attempts")
	}

	// Clear the backoff gate, then exhaust the second attempt.
	past := time.Now().Add(-time.Minute)
	_ = h.queue.IncrementAttempts(context.Background(), item.ID, got.LastSyncError,
		storage.Diagnostics{RetryAfter: &past})
	got, _ = h.queue.GetByID(context.Background(), item.ID)
	// IncrementAttempts above counts as the second failed attempt.
	if got.SyncAttempts != 2 {
		t.Fatalf("sync_attempts = %d, want 2", got.SyncAttempts)
	}

	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	got, _ = h.queue.GetByID(context.Background(), item.ID)
	if !got.DeadLettered {
		t.Fatal("item must dead-letter when permanent failures reach max attempts")
	}
	if got.DeadLetterReason != domain.ReasonPermanentError {
		t.Errorf("reason = %s, want PERMANENT_ERROR", got.DeadLetterReason)
	}
}

func TestRunOnce_CircuitOpenStopsBatch(t *testing.T) {
	h := newHarness(t)
	enqueue(t, h, "store-1", "pack-1", 20)
	enqueue(t, h, "store-1", "pack-2", 10)
	h.breaker.ForceOpen()

	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(h.pusher.calls) != 0 {
		t.Errorf("pusher invoked %d times while circuit open, want 0", len(h.pusher.calls))
	}

	// Items stay pending and untouched.
	items, _ := h.queue.GetRetryableItems(context.Background(), "store-1", 10)
	if len(items) != 2 {
		t.Errorf("retryable items = %d, want 2", len(items))
	}
}

func TestRunOnce_BatchSizeBoundsFetch(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 30; i++ {
		enqueue(t, h, "store-1", "pack-"+string(rune('a'+i)), domain.PriorityDefault)
	}

	// Shrink the batch hard before running.
	h.strategy.RecordBatchFailure(1.0) // 20 -> 10

	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(h.pusher.calls) != 10 {
		t.Errorf("pushed %d items, want adaptive batch of 10", len(h.pusher.calls))
	}
}

func TestRunOnce_MixedBatchRecordsFailureRate(t *testing.T) {
	h := newHarness(t)
	enqueue(t, h, "store-1", "ok-1", domain.PriorityDefault)
	enqueue(t, h, "store-1", "bad-1", domain.PriorityDefault)
	h.pusher.errs["bad-1"] = &cloud.APIError{StatusCode: 500, Message: "Internal Server Error"}

	before := h.strategy.BatchSize()
	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	after := h.strategy.BatchSize()

	if after >= before {
		t.Errorf("batch size %d -> %d, expected shrink on partial failure", before, after)
	}
	if h.svc.lastStats.Pushed != 1 {
		t.Errorf("stats pushed = %d, want 1", h.svc.lastStats.Pushed)
	}
}

func TestRunOnce_EmptyQueueIsCleanCycle(t *testing.T) {
	h := newHarness(t)

	before := h.strategy.BatchSize()
	if err := h.engine.RunOnce(context.Background(), "store-1"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if h.svc.startCalls != 1 || h.svc.completeCalls != 1 {
		t.Errorf("session calls = %d/%d, want 1/1", h.svc.startCalls, h.svc.completeCalls)
	}
	// An empty batch must not count as a success or failure signal.
	if got := h.strategy.BatchSize(); got != before {
		t.Errorf("batch size changed on empty cycle: %d -> %d", before, got)
	}
}
