package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/duyttran/syncline/internal/core/domain"
)

// DeadLetterRepo implements storage.DeadLetterRepository using PostgreSQL.
// Dead letters live in the sync_queue table; the transition is a flag
// flip, never a copy.
type DeadLetterRepo struct {
	db *DB
}

// NewDeadLetterRepo creates a new PostgreSQL dead letter repository.
func NewDeadLetterRepo(db *DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

// DeadLetter moves an item out of the retry pool. Idempotent; a synced
// item is never dead-lettered, and a repeat call keeps the first
// reason, category and timestamp.
func (r *DeadLetterRepo) DeadLetter(ctx context.Context, id string, reason domain.DeadLetterReason, category domain.ErrorCategory) error {
	query := `
		UPDATE sync_queue
		SET dead_lettered = TRUE,
		    dead_letter_reason = $2,
		    error_category = $3,
		    dead_lettered_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND synced = FALSE AND dead_lettered = FALSE
	`
	_, err := r.db.ExecContext(ctx, query, id, string(reason), string(category))
	if err != nil {
		return fmt.Errorf("failed to dead letter item: %w", err)
	}
	return nil
}

// Restore moves a dead-lettered item back to pending with a clean slate.
func (r *DeadLetterRepo) Restore(ctx context.Context, id string) error {
	query := `
		UPDATE sync_queue
		SET dead_lettered = FALSE,
		    dead_letter_reason = NULL,
		    error_category = NULL,
		    dead_lettered_at = NULL,
		    sync_attempts = 0,
		    retry_after = NULL,
		    last_sync_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND dead_lettered = TRUE
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to restore item: %w", err)
	}
	return nil
}

// RestoreMany restores a batch and returns how many rows changed state.
func (r *DeadLetterRepo) RestoreMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE sync_queue
		SET dead_lettered = FALSE,
		    dead_letter_reason = NULL,
		    error_category = NULL,
		    dead_lettered_at = NULL,
		    sync_attempts = 0,
		    retry_after = NULL,
		    last_sync_error = NULL,
		    updated_at = NOW()
		WHERE id = ANY($1) AND dead_lettered = TRUE
	`
	res, err := r.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to restore items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Cleanup permanently deletes aged dead-letter rows and returns the count.
func (r *DeadLetterRepo) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM sync_queue
		WHERE dead_lettered = TRUE
		  AND dead_lettered_at < NOW() - ($1 * INTERVAL '1 day')
	`
	res, err := r.db.ExecContext(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup dead letters: %w", err)
	}
	return res.RowsAffected()
}

// List returns dead-lettered items for one store, newest first.
func (r *DeadLetterRepo) List(ctx context.Context, storeID string, limit int) ([]*domain.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM sync_queue
		WHERE store_id = $1 AND dead_lettered = TRUE
		ORDER BY dead_lettered_at DESC
		LIMIT $2
	`
	var rows []queueRow
	if err := r.db.SelectContext(ctx, &rows, query, storeID, limit); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	items := make([]*domain.QueueItem, len(rows))
	for i := range rows {
		items[i] = rows[i].toDomain()
	}
	return items, nil
}

// Stats counts dead-lettered items per reason.
func (r *DeadLetterRepo) Stats(ctx context.Context, storeID string) (*domain.DeadLetterStats, error) {
	query := `
		SELECT dead_letter_reason, COUNT(*) AS cnt
		FROM sync_queue
		WHERE store_id = $1 AND dead_lettered = TRUE
		GROUP BY dead_letter_reason
	`
	rows, err := r.db.QueryxContext(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter stats: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	stats := &domain.DeadLetterStats{ByReason: make(map[string]int)}
	for rows.Next() {
		var reason string
		var cnt int
		if err := rows.Scan(&reason, &cnt); err != nil {
			return nil, err
		}
		stats.ByReason[reason] = cnt
		stats.Total += cnt
	}
	return stats, rows.Err()
}
