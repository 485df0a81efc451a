package domain

import (
	"encoding/json"
	"time"
)

// QueueItem represents one pending or historical unit of outbound work.
type QueueItem struct {
	ID         string `json:"id" db:"id"`
	StoreID    string `json:"store_id" db:"store_id"`
	EntityType string `json:"entity_type" db:"entity_type"`
	EntityID   string `json:"entity_id" db:"entity_id"`

	Operation     Operation       `json:"operation" db:"operation"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Priority      int             `json:"priority" db:"priority"`
	SyncDirection SyncDirection   `json:"sync_direction" db:"sync_direction"`

	SyncAttempts  int        `json:"sync_attempts" db:"sync_attempts"`
	MaxAttempts   int        `json:"max_attempts" db:"max_attempts"`
	LastSyncError string     `json:"last_sync_error" db:"last_sync_error"`
	LastAttemptAt *time.Time `json:"last_attempt_at" db:"last_attempt_at"`
	RetryAfter    *time.Time `json:"retry_after" db:"retry_after"`

	// Diagnostic context from the most recent push, recorded on both
	// success and failure for operator troubleshooting.
	APIEndpoint  string `json:"api_endpoint" db:"api_endpoint"`
	HTTPStatus   int    `json:"http_status" db:"http_status"`
	ResponseBody string `json:"response_body" db:"response_body"`

	Synced   bool       `json:"synced" db:"synced"`
	SyncedAt *time.Time `json:"synced_at" db:"synced_at"`

	DeadLettered     bool             `json:"dead_lettered" db:"dead_lettered"`
	DeadLetterReason DeadLetterReason `json:"dead_letter_reason" db:"dead_letter_reason"`
	ErrorCategory    ErrorCategory    `json:"error_category" db:"error_category"`
	DeadLetteredAt   *time.Time       `json:"dead_lettered_at" db:"dead_lettered_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Pending reports whether the item is still in the retryable pool.
func (q *QueueItem) Pending() bool {
	return !q.Synced && !q.DeadLettered
}

// DefaultMaxAttempts is applied when an item is enqueued without one.
const DefaultMaxAttempts = 5

type Operation string

const (
	OperationCreate   Operation = "CREATE"
	OperationUpdate   Operation = "UPDATE"
	OperationDelete   Operation = "DELETE"
	OperationActivate Operation = "ACTIVATE"
	OperationDeplete  Operation = "DEPLETE"
	OperationReturn   Operation = "RETURN"
)

type SyncDirection string

const (
	DirectionPush SyncDirection = "PUSH"
	DirectionPull SyncDirection = "PULL"
)

// Entity types produced by the domain write paths.
const (
	EntityPack     = "pack"
	EntityEmployee = "employee"
	EntityShift    = "shift"
	EntityDayOpen  = "day_open"
	EntityDayClose = "day_close"
)

// Priority tiers. Higher is pushed first, which guarantees cross-entity
// referential ordering (a day must exist in the cloud before shifts
// reference it, and the day closes last).
const (
	PriorityDayOpen  = 20
	PriorityShift    = 10
	PriorityDefault  = 5
	PriorityDayClose = 1
)

type DeadLetterReason string

const (
	ReasonMaxAttemptsExceeded DeadLetterReason = "MAX_ATTEMPTS_EXCEEDED"
	ReasonPermanentError      DeadLetterReason = "PERMANENT_ERROR"
	ReasonStructuralFailure   DeadLetterReason = "STRUCTURAL_FAILURE"
	ReasonManual              DeadLetterReason = "MANUAL"
)

type ErrorCategory string

const (
	CategoryTransient  ErrorCategory = "TRANSIENT"
	CategoryPermanent  ErrorCategory = "PERMANENT"
	CategoryStructural ErrorCategory = "STRUCTURAL"
	CategoryConflict   ErrorCategory = "CONFLICT"
	CategoryUnknown    ErrorCategory = "UNKNOWN"
)
