package storage

import (
	"context"
	"errors"
	"time"

	"github.com/duyttran/syncline/internal/core/domain"
)

var (
	// ErrItemNotFound is returned when a queue item id does not exist.
	ErrItemNotFound = errors.New("queue item not found")
)

// Diagnostics captures transport context recorded on each attempt, on both
// success and failure.
type Diagnostics struct {
	Endpoint     string
	HTTPStatus   int
	ResponseBody string
	RetryAfter   *time.Time
}

// QueueRepository is the persistent store of outbound work items. Every
// operation is scoped by store id; no query returns or mutates another
// store's rows.
type QueueRepository interface {
	// Enqueue creates a new pending item (attempts = 0). Never merges
	// with existing items, and never depends on the network.
	Enqueue(ctx context.Context, item *domain.QueueItem) error

	// GetRetryableItems returns up to limit pending items whose
	// retry_after has passed, ordered by priority descending then
	// created_at ascending.
	GetRetryableItems(ctx context.Context, storeID string, limit int) ([]*domain.QueueItem, error)

	// GetByID fetches one item regardless of state.
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)

	// MarkSynced is the idempotent terminal success transition.
	MarkSynced(ctx context.Context, id string, d Diagnostics) error

	// IncrementAttempts bumps sync_attempts, records the error and
	// diagnostics, and advances retry_after.
	IncrementAttempts(ctx context.Context, id string, errMsg string, d Diagnostics) error

	// PartitionDepths counts pending items per entity type.
	PartitionDepths(ctx context.Context, storeID string) (map[string]int, error)

	// Stats returns the coarse queue snapshot for one store.
	Stats(ctx context.Context, storeID string) (*domain.QueueStats, error)

	// DetailedStats breaks pending work down by entity type, operation
	// and direction.
	DetailedStats(ctx context.Context, storeID string) (*domain.DetailedStats, error)
}

// DeadLetterRepository manages items moved out of the retry pool. It
// shares the queue's rows; dead-lettering is a flag flip, not a copy.
type DeadLetterRepository interface {
	// DeadLetter is the idempotent terminal failure transition.
	DeadLetter(ctx context.Context, id string, reason domain.DeadLetterReason, category domain.ErrorCategory) error

	// Restore moves an item back to pending, resetting attempts.
	Restore(ctx context.Context, id string) error

	// RestoreMany restores a batch and returns how many changed state.
	RestoreMany(ctx context.Context, ids []string) (int, error)

	// Cleanup permanently deletes dead-lettered rows older than the
	// given age and returns the count.
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)

	// List returns dead-lettered items for one store, newest first.
	List(ctx context.Context, storeID string, limit int) ([]*domain.QueueItem, error)

	// Stats counts dead-lettered items per reason.
	Stats(ctx context.Context, storeID string) (*domain.DeadLetterStats, error)
}
