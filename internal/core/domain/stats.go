package domain

import "time"

// QueueStats is the coarse queue snapshot for one store.
type QueueStats struct {
	Pending       int        `json:"pending" db:"pending"`
	Failed        int        `json:"failed" db:"failed"`
	DeadLettered  int        `json:"dead_lettered" db:"dead_lettered"`
	SyncedToday   int        `json:"synced_today" db:"synced_today"`
	SyncedTotal   int        `json:"synced_total" db:"synced_total"`
	OldestPending *time.Time `json:"oldest_pending" db:"oldest_pending"`
	NewestSync    *time.Time `json:"newest_sync" db:"newest_sync"`
}

// DetailedStats breaks pending work down by entity type, operation and
// direction for operator visibility.
type DetailedStats struct {
	QueueStats
	ByEntityType map[string]int `json:"by_entity_type"`
	ByOperation  map[string]int `json:"by_operation"`
	ByDirection  map[string]int `json:"by_direction"`
}

// DeadLetterStats counts dead-lettered items per reason for one store.
type DeadLetterStats struct {
	Total    int            `json:"total"`
	ByReason map[string]int `json:"by_reason"`
}
