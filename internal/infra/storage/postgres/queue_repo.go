package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/duyttran/syncline/internal/core/domain"
	"github.com/duyttran/syncline/internal/infra/storage"
)

// queueColumns is the full select list for sync_queue rows.
const queueColumns = `
	id, store_id, entity_type, entity_id, operation, payload, priority,
	sync_direction, sync_attempts, max_attempts, last_sync_error,
	last_attempt_at, retry_after, api_endpoint, http_status, response_body,
	synced, synced_at, dead_lettered, dead_letter_reason, error_category,
	dead_lettered_at, created_at, updated_at`

// queueRow mirrors the sync_queue schema for sqlx scanning.
type queueRow struct {
	ID               string          `db:"id"`
	StoreID          string          `db:"store_id"`
	EntityType       string          `db:"entity_type"`
	EntityID         string          `db:"entity_id"`
	Operation        string          `db:"operation"`
	Payload          []byte          `db:"payload"`
	Priority         int             `db:"priority"`
	SyncDirection    string          `db:"sync_direction"`
	SyncAttempts     int             `db:"sync_attempts"`
	MaxAttempts      int             `db:"max_attempts"`
	LastSyncError    sql.NullString  `db:"last_sync_error"`
	LastAttemptAt    sql.NullTime    `db:"last_attempt_at"`
	RetryAfter       sql.NullTime    `db:"retry_after"`
	APIEndpoint      sql.NullString  `db:"api_endpoint"`
	HTTPStatus       sql.NullInt64   `db:"http_status"`
	ResponseBody     sql.NullString  `db:"response_body"`
	Synced           bool            `db:"synced"`
	SyncedAt         sql.NullTime    `db:"synced_at"`
	DeadLettered     bool            `db:"dead_lettered"`
	DeadLetterReason sql.NullString  `db:"dead_letter_reason"`
	ErrorCategory    sql.NullString  `db:"error_category"`
	DeadLetteredAt   sql.NullTime    `db:"dead_lettered_at"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r *queueRow) toDomain() *domain.QueueItem {
	item := &domain.QueueItem{
		ID:               r.ID,
		StoreID:          r.StoreID,
		EntityType:       r.EntityType,
		EntityID:         r.EntityID,
		Operation:        domain.Operation(r.Operation),
		Payload:          r.Payload,
		Priority:         r.Priority,
		SyncDirection:    domain.SyncDirection(r.SyncDirection),
		SyncAttempts:     r.SyncAttempts,
		MaxAttempts:      r.MaxAttempts,
		LastSyncError:    r.LastSyncError.String,
		APIEndpoint:      r.APIEndpoint.String,
		HTTPStatus:       int(r.HTTPStatus.Int64),
		ResponseBody:     r.ResponseBody.String,
		Synced:           r.Synced,
		DeadLettered:     r.DeadLettered,
		DeadLetterReason: domain.DeadLetterReason(r.DeadLetterReason.String),
		ErrorCategory:    domain.ErrorCategory(r.ErrorCategory.String),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.LastAttemptAt.Valid {
		item.LastAttemptAt = &r.LastAttemptAt.Time
	}
	if r.RetryAfter.Valid {
		item.RetryAfter = &r.RetryAfter.Time
	}
	if r.SyncedAt.Valid {
		item.SyncedAt = &r.SyncedAt.Time
	}
	if r.DeadLetteredAt.Valid {
		item.DeadLetteredAt = &r.DeadLetteredAt.Time
	}
	return item
}

// QueueRepo implements storage.QueueRepository using PostgreSQL.
type QueueRepo struct {
	db *DB
}

// NewQueueRepo creates a new PostgreSQL queue repository.
func NewQueueRepo(db *DB) *QueueRepo {
	return &QueueRepo{db: db}
}

// Enqueue inserts a new pending item. It never merges with existing rows
// and never touches the network.
func (r *QueueRepo) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	return enqueue(ctx, r.db, item)
}

// EnqueueTx inserts inside a caller-provided transaction so a domain write
// and its sync obligation commit atomically.
func (r *QueueRepo) EnqueueTx(ctx context.Context, tx *sqlx.Tx, item *domain.QueueItem) error {
	return enqueue(ctx, tx, item)
}

func enqueue(ctx context.Context, execer sqlx.ExtContext, item *domain.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = domain.DefaultMaxAttempts
	}
	if item.SyncDirection == "" {
		item.SyncDirection = domain.DirectionPush
	}

	query := `
		INSERT INTO sync_queue (
			id, store_id, entity_type, entity_id, operation, payload,
			priority, sync_direction, sync_attempts, max_attempts,
			synced, dead_lettered, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, FALSE, FALSE, NOW(), NOW())
	`
	_, err := execer.ExecContext(ctx, query,
		item.ID, item.StoreID, item.EntityType, item.EntityID,
		string(item.Operation), []byte(item.Payload), item.Priority,
		string(item.SyncDirection), item.MaxAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue item: %w", err)
	}
	return nil
}

// GetRetryableItems returns pending items eligible for a push attempt,
// priority first, oldest first within a tier.
func (r *QueueRepo) GetRetryableItems(ctx context.Context, storeID string, limit int) ([]*domain.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM sync_queue
		WHERE store_id = $1
		  AND synced = FALSE
		  AND dead_lettered = FALSE
		  AND (retry_after IS NULL OR retry_after <= NOW())
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`
	var rows []queueRow
	if err := r.db.SelectContext(ctx, &rows, query, storeID, limit); err != nil {
		return nil, fmt.Errorf("failed to get retryable items: %w", err)
	}

	items := make([]*domain.QueueItem, len(rows))
	for i := range rows {
		items[i] = rows[i].toDomain()
	}
	return items, nil
}

// GetByID fetches one item regardless of state.
func (r *QueueRepo) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE id = $1`

	var row queueRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return row.toDomain(), nil
}

// MarkSynced flips an item to the synced terminal state. Idempotent; a
// dead-lettered item is never resurrected this way.
func (r *QueueRepo) MarkSynced(ctx context.Context, id string, d storage.Diagnostics) error {
	query := `
		UPDATE sync_queue
		SET synced = TRUE,
		    synced_at = COALESCE(synced_at, NOW()),
		    api_endpoint = $2,
		    http_status = $3,
		    response_body = $4,
		    last_attempt_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND dead_lettered = FALSE
	`
	_, err := r.db.ExecContext(ctx, query, id, d.Endpoint, d.HTTPStatus, truncate(d.ResponseBody))
	if err != nil {
		return fmt.Errorf("failed to mark synced: %w", err)
	}
	return nil
}

// IncrementAttempts records a failed attempt and schedules the next one.
func (r *QueueRepo) IncrementAttempts(ctx context.Context, id string, errMsg string, d storage.Diagnostics) error {
	query := `
		UPDATE sync_queue
		SET sync_attempts = sync_attempts + 1,
		    last_sync_error = $2,
		    last_attempt_at = NOW(),
		    retry_after = $3,
		    api_endpoint = $4,
		    http_status = $5,
		    response_body = $6,
		    updated_at = NOW()
		WHERE id = $1 AND synced = FALSE AND dead_lettered = FALSE
	`
	var retryAfter interface{}
	if d.RetryAfter != nil {
		retryAfter = *d.RetryAfter
	}
	_, err := r.db.ExecContext(ctx, query, id, errMsg, retryAfter, d.Endpoint, d.HTTPStatus, truncate(d.ResponseBody))
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}

// PartitionDepths counts pending items per entity type.
func (r *QueueRepo) PartitionDepths(ctx context.Context, storeID string) (map[string]int, error) {
	query := `
		SELECT entity_type, COUNT(*) AS depth
		FROM sync_queue
		WHERE store_id = $1 AND synced = FALSE AND dead_lettered = FALSE
		GROUP BY entity_type
	`
	rows, err := r.db.QueryxContext(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get partition depths: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	depths := make(map[string]int)
	for rows.Next() {
		var entityType string
		var depth int
		if err := rows.Scan(&entityType, &depth); err != nil {
			return nil, err
		}
		depths[entityType] = depth
	}
	return depths, rows.Err()
}

// Stats returns the coarse queue snapshot for one store.
func (r *QueueRepo) Stats(ctx context.Context, storeID string) (*domain.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE NOT synced AND NOT dead_lettered) AS pending,
			COUNT(*) FILTER (WHERE NOT synced AND NOT dead_lettered AND sync_attempts > 0) AS failed,
			COUNT(*) FILTER (WHERE dead_lettered) AS dead_lettered,
			COUNT(*) FILTER (WHERE synced AND synced_at >= date_trunc('day', NOW())) AS synced_today,
			COUNT(*) FILTER (WHERE synced) AS synced_total,
			MIN(created_at) FILTER (WHERE NOT synced AND NOT dead_lettered) AS oldest_pending,
			MAX(synced_at) FILTER (WHERE synced) AS newest_sync
		FROM sync_queue
		WHERE store_id = $1
	`
	var dest struct {
		Pending       int          `db:"pending"`
		Failed        int          `db:"failed"`
		DeadLettered  int          `db:"dead_lettered"`
		SyncedToday   int          `db:"synced_today"`
		SyncedTotal   int          `db:"synced_total"`
		OldestPending sql.NullTime `db:"oldest_pending"`
		NewestSync    sql.NullTime `db:"newest_sync"`
	}
	if err := r.db.GetContext(ctx, &dest, query, storeID); err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	stats := &domain.QueueStats{
		Pending:      dest.Pending,
		Failed:       dest.Failed,
		DeadLettered: dest.DeadLettered,
		SyncedToday:  dest.SyncedToday,
		SyncedTotal:  dest.SyncedTotal,
	}
	if dest.OldestPending.Valid {
		stats.OldestPending = &dest.OldestPending.Time
	}
	if dest.NewestSync.Valid {
		stats.NewestSync = &dest.NewestSync.Time
	}
	return stats, nil
}

// DetailedStats adds per-entity, per-operation and per-direction pending
// breakdowns to the coarse stats.
func (r *QueueRepo) DetailedStats(ctx context.Context, storeID string) (*domain.DetailedStats, error) {
	base, err := r.Stats(ctx, storeID)
	if err != nil {
		return nil, err
	}

	stats := &domain.DetailedStats{
		QueueStats:   *base,
		ByEntityType: make(map[string]int),
		ByOperation:  make(map[string]int),
		ByDirection:  make(map[string]int),
	}

	query := `
		SELECT entity_type, operation, sync_direction, COUNT(*) AS cnt
		FROM sync_queue
		WHERE store_id = $1 AND synced = FALSE AND dead_lettered = FALSE
		GROUP BY entity_type, operation, sync_direction
	`
	rows, err := r.db.QueryxContext(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get detailed stats: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var entityType, operation, direction string
		var cnt int
		if err := rows.Scan(&entityType, &operation, &direction, &cnt); err != nil {
			return nil, err
		}
		stats.ByEntityType[entityType] += cnt
		stats.ByOperation[operation] += cnt
		stats.ByDirection[direction] += cnt
	}
	return stats, rows.Err()
}

// truncate bounds diagnostic response bodies.
func truncate(s string) string {
	const maxLen = 2048
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
