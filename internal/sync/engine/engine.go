package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/duyttran/syncline/internal/core/domain"
	"github.com/duyttran/syncline/internal/infra/cloud"
	"github.com/duyttran/syncline/internal/infra/storage"
	"github.com/duyttran/syncline/internal/sync/breaker"
	"github.com/duyttran/syncline/internal/sync/classify"
	"github.com/duyttran/syncline/internal/sync/metrics"
	"github.com/duyttran/syncline/internal/sync/retry"
	"github.com/duyttran/syncline/internal/sync/session"
)

// Pusher delivers one queue item to the cloud. A failure should be (or
// wrap) a *cloud.APIError so the classifier can see the transport context.
type Pusher interface {
	Push(ctx context.Context, item *domain.QueueItem) error
}

// Engine runs one sync cycle's worth of queue draining for a store.
type Engine struct {
	queue    storage.QueueRepository
	dlq      storage.DeadLetterRepository
	strategy *retry.Strategy
	breaker  *breaker.Breaker
	sessions *session.Manager
	pusher   Pusher
	log      *slog.Logger
	now      func() time.Time
}

// Config bundles the engine's collaborators.
type Config struct {
	Queue      storage.QueueRepository
	DeadLetter storage.DeadLetterRepository
	Strategy   *retry.Strategy
	Breaker    *breaker.Breaker
	Sessions   *session.Manager
	Pusher     Pusher
	Log        *slog.Logger
}

// New creates a sync engine.
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		queue:    cfg.Queue,
		dlq:      cfg.DeadLetter,
		strategy: cfg.Strategy,
		breaker:  cfg.Breaker,
		sessions: cfg.Sessions,
		pusher:   cfg.Pusher,
		log:      log,
		now:      time.Now,
	}
}

// RunOnce executes one complete sync cycle for the store: one session
// start/complete pair bracketing a single batch push.
func (e *Engine) RunOnce(ctx context.Context, storeID string) error {
	err := e.sessions.RunSyncCycle(ctx, storeID, func(ctx context.Context, c *session.Cycle) error {
		return e.pushBatch(ctx, c)
	})
	if err != nil {
		metrics.SyncCycles.WithLabelValues(storeID, "error").Inc()
		return err
	}
	metrics.SyncCycles.WithLabelValues(storeID, "ok").Inc()
	return nil
}

// pushBatch drains one batch sized by the adaptive strategy. Item-level
// failures are classified and handled inside the batch; only storage
// errors abort the cycle.
func (e *Engine) pushBatch(ctx context.Context, c *session.Cycle) error {
	limit := e.strategy.BatchSize()
	metrics.AdaptiveBatchSize.Set(float64(limit))

	items, err := e.queue.GetRetryableItems(ctx, c.StoreID, limit)
	if err != nil {
		return fmt.Errorf("fetch retryable items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	var pushed, failed int
	for _, item := range items {
		start := e.now()
		err := e.breaker.Execute(ctx, func(ctx context.Context) error {
			return e.pusher.Push(ctx, item)
		})
		metrics.PushLatency.WithLabelValues(item.EntityType).Observe(e.now().Sub(start).Seconds())

		if err == nil {
			if err := e.markSynced(ctx, item); err != nil {
				return err
			}
			pushed++
			continue
		}

		if errors.Is(err, breaker.ErrCircuitOpen) {
			// The remote is down hard; stop burning the rest of the
			// batch. Untouched items stay retryable as-is.
			e.log.Warn("Circuit open, abandoning batch",
				"store", c.StoreID, "remaining", len(items)-pushed-failed)
			failed++
			break
		}

		failed++
		if err := e.handleFailure(ctx, c, item, err); err != nil {
			return err
		}
	}

	c.RecordOperationStats("push", domain.CycleStats{Pushed: pushed})

	if failed > 0 {
		e.strategy.RecordBatchFailure(float64(failed) / float64(len(items)))
	} else {
		e.strategy.RecordBatchSuccess()
	}

	e.log.Info("Sync batch complete",
		"store", c.StoreID, "session", c.SessionID(),
		"pushed", pushed, "failed", failed, "batch", len(items))
	return nil
}

func (e *Engine) markSynced(ctx context.Context, item *domain.QueueItem) error {
	d := storage.Diagnostics{Endpoint: item.APIEndpoint, HTTPStatus: 200}
	if err := e.queue.MarkSynced(ctx, item.ID, d); err != nil {
		return fmt.Errorf("mark synced %s: %w", item.ID, err)
	}
	metrics.ItemsSynced.WithLabelValues(item.StoreID, item.EntityType).Inc()
	return nil
}

// handleFailure classifies one failed push and either advances the item's
// retry bookkeeping or moves it to the dead letter pool.
func (e *Engine) handleFailure(ctx context.Context, c *session.Cycle, item *domain.QueueItem, pushErr error) error {
	var status int
	var retryAfterHdr, endpoint, body string
	message := pushErr.Error()

	var apiErr *cloud.APIError
	if errors.As(pushErr, &apiErr) {
		status = apiErr.StatusCode
		retryAfterHdr = apiErr.RetryAfter
		endpoint = apiErr.Endpoint
		body = apiErr.Body
		if apiErr.Message != "" {
			message = apiErr.Message
		}
	}

	res := classify.Classify(status, message, retryAfterHdr)
	metrics.ItemsFailed.WithLabelValues(item.StoreID, string(res.Category)).Inc()

	attempts := item.SyncAttempts + 1
	decision := e.strategy.RetryDecision(attempts, item.MaxAttempts, res.Category, res.RetryAfter)

	if decision.ShouldDeadLetter {
		if err := e.dlq.DeadLetter(ctx, item.ID, decision.Reason, res.Category); err != nil {
			return fmt.Errorf("dead letter %s: %w", item.ID, err)
		}
		metrics.ItemsDeadLettered.WithLabelValues(item.StoreID, string(decision.Reason)).Inc()
		e.log.Warn("Item dead-lettered",
			"store", c.StoreID, "item", item.ID, "entity", item.EntityType,
			"reason", decision.Reason, "category", res.Category, "attempts", attempts)
		return nil
	}

	retryAt := e.now().Add(decision.Delay)
	if res.RetryAfter != nil && res.RetryAfter.After(retryAt) {
		retryAt = *res.RetryAfter
	}

	d := storage.Diagnostics{
		Endpoint:     endpoint,
		HTTPStatus:   status,
		ResponseBody: body,
		RetryAfter:   &retryAt,
	}
	if err := e.queue.IncrementAttempts(ctx, item.ID, message, d); err != nil {
		return fmt.Errorf("increment attempts %s: %w", item.ID, err)
	}

	e.log.Debug("Push failed, scheduled retry",
		"store", c.StoreID, "item", item.ID, "category", res.Category,
		"attempts", attempts, "retry_at", retryAt)
	return nil
}
