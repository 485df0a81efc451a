package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duyttran/syncline/internal/core/domain"
	"github.com/duyttran/syncline/internal/infra/storage"
)

// MemoryStorage backs tests and the no-database dev mode.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]*domain.QueueItem
	seq   int64
	now   func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]*domain.QueueItem),
		now:   time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// -----------------------------------------------------------------------------
// Queue Repository
// -----------------------------------------------------------------------------

type QueueRepo struct {
	store *MemoryStorage
}

func NewQueueRepo(store *MemoryStorage) *QueueRepo {
	return &QueueRepo{store: store}
}

func (r *QueueRepo) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = domain.DefaultMaxAttempts
	}
	if item.SyncDirection == "" {
		item.SyncDirection = domain.DirectionPush
	}

	// Enqueue always creates a fresh pending item; caller-supplied sync
	// or dead-letter state never enters the pool.
	item.SyncAttempts = 0
	item.LastSyncError = ""
	item.LastAttemptAt = nil
	item.RetryAfter = nil
	item.Synced = false
	item.SyncedAt = nil
	item.DeadLettered = false
	item.DeadLetterReason = ""
	item.ErrorCategory = ""
	item.DeadLetteredAt = nil

	now := r.store.now()
	// Monotonic tiebreak for items created within the same instant.
	r.store.seq++
	item.CreatedAt = now.Add(time.Duration(r.store.seq) * time.Nanosecond)
	item.UpdatedAt = now

	cp := *item
	r.store.items[item.ID] = &cp
	return nil
}

func (r *QueueRepo) GetRetryableItems(ctx context.Context, storeID string, limit int) ([]*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	now := r.store.now()
	var eligible []*domain.QueueItem
	for _, it := range r.store.items {
		if it.StoreID != storeID || it.Synced || it.DeadLettered {
			continue
		}
		if it.RetryAfter != nil && it.RetryAfter.After(now) {
			continue
		}
		cp := *it
		eligible = append(eligible, &cp)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (r *QueueRepo) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	it, ok := r.store.items[id]
	if !ok {
		return nil, storage.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (r *QueueRepo) MarkSynced(ctx context.Context, id string, d storage.Diagnostics) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	if it.DeadLettered {
		return nil
	}

	now := r.store.now()
	if !it.Synced {
		it.Synced = true
		it.SyncedAt = &now
	}
	it.APIEndpoint = d.Endpoint
	it.HTTPStatus = d.HTTPStatus
	it.ResponseBody = d.ResponseBody
	it.LastAttemptAt = &now
	it.UpdatedAt = now
	return nil
}

func (r *QueueRepo) IncrementAttempts(ctx context.Context, id string, errMsg string, d storage.Diagnostics) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	if it.Synced || it.DeadLettered {
		return nil
	}

	now := r.store.now()
	it.SyncAttempts++
	it.LastSyncError = errMsg
	it.LastAttemptAt = &now
	it.RetryAfter = d.RetryAfter
	it.APIEndpoint = d.Endpoint
	it.HTTPStatus = d.HTTPStatus
	it.ResponseBody = d.ResponseBody
	it.UpdatedAt = now
	return nil
}

func (r *QueueRepo) PartitionDepths(ctx context.Context, storeID string) (map[string]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	depths := make(map[string]int)
	for _, it := range r.store.items {
		if it.StoreID == storeID && it.Pending() {
			depths[it.EntityType]++
		}
	}
	return depths, nil
}

func (r *QueueRepo) Stats(ctx context.Context, storeID string) (*domain.QueueStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stats := &domain.QueueStats{}
	dayStart := r.store.now().Truncate(24 * time.Hour)

	for _, it := range r.store.items {
		if it.StoreID != storeID {
			continue
		}
		switch {
		case it.DeadLettered:
			stats.DeadLettered++
		case it.Synced:
			stats.SyncedTotal++
			if it.SyncedAt != nil && !it.SyncedAt.Before(dayStart) {
				stats.SyncedToday++
			}
			if it.SyncedAt != nil && (stats.NewestSync == nil || it.SyncedAt.After(*stats.NewestSync)) {
				t := *it.SyncedAt
				stats.NewestSync = &t
			}
		default:
			stats.Pending++
			if it.SyncAttempts > 0 {
				stats.Failed++
			}
			if stats.OldestPending == nil || it.CreatedAt.Before(*stats.OldestPending) {
				t := it.CreatedAt
				stats.OldestPending = &t
			}
		}
	}
	return stats, nil
}

func (r *QueueRepo) DetailedStats(ctx context.Context, storeID string) (*domain.DetailedStats, error) {
	base, err := r.Stats(ctx, storeID)
	if err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stats := &domain.DetailedStats{
		QueueStats:   *base,
		ByEntityType: make(map[string]int),
		ByOperation:  make(map[string]int),
		ByDirection:  make(map[string]int),
	}
	for _, it := range r.store.items {
		if it.StoreID != storeID || !it.Pending() {
			continue
		}
		stats.ByEntityType[it.EntityType]++
		stats.ByOperation[string(it.Operation)]++
		stats.ByDirection[string(it.SyncDirection)]++
	}
	return stats, nil
}

// -----------------------------------------------------------------------------
// Dead Letter Repository
// -----------------------------------------------------------------------------

type DeadLetterRepo struct {
	store *MemoryStorage
}

func NewDeadLetterRepo(store *MemoryStorage) *DeadLetterRepo {
	return &DeadLetterRepo{store: store}
}

func (r *DeadLetterRepo) DeadLetter(ctx context.Context, id string, reason domain.DeadLetterReason, category domain.ErrorCategory) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	if it.Synced || it.DeadLettered {
		return nil
	}

	now := r.store.now()
	it.DeadLettered = true
	it.DeadLetterReason = reason
	it.ErrorCategory = category
	it.DeadLetteredAt = &now
	it.UpdatedAt = now
	return nil
}

func (r *DeadLetterRepo) Restore(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.restoreLocked(id)
}

func (r *DeadLetterRepo) RestoreMany(ctx context.Context, ids []string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	restored := 0
	for _, id := range ids {
		if err := r.restoreLocked(id); err == nil {
			restored++
		}
	}
	return restored, nil
}

func (r *DeadLetterRepo) restoreLocked(id string) error {
	it, ok := r.store.items[id]
	if !ok {
		return storage.ErrItemNotFound
	}
	if !it.DeadLettered {
		return storage.ErrItemNotFound
	}

	it.DeadLettered = false
	it.DeadLetterReason = ""
	it.ErrorCategory = ""
	it.DeadLetteredAt = nil
	it.SyncAttempts = 0
	it.RetryAfter = nil
	it.LastSyncError = ""
	it.UpdatedAt = r.store.now()
	return nil
}

func (r *DeadLetterRepo) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cutoff := r.store.now().AddDate(0, 0, -olderThanDays)
	var deleted int64
	for id, it := range r.store.items {
		if it.DeadLettered && it.DeadLetteredAt != nil && it.DeadLetteredAt.Before(cutoff) {
			delete(r.store.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *DeadLetterRepo) List(ctx context.Context, storeID string, limit int) ([]*domain.QueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.QueueItem
	for _, it := range r.store.items {
		if it.StoreID == storeID && it.DeadLettered {
			cp := *it
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].DeadLetteredAt, out[j].DeadLetteredAt
		if ti == nil || tj == nil {
			return tj == nil
		}
		return ti.After(*tj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *DeadLetterRepo) Stats(ctx context.Context, storeID string) (*domain.DeadLetterStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stats := &domain.DeadLetterStats{ByReason: make(map[string]int)}
	for _, it := range r.store.items {
		if it.StoreID == storeID && it.DeadLettered {
			stats.ByReason[string(it.DeadLetterReason)]++
			stats.Total++
		}
	}
	return stats, nil
}
