package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsSynced tracks items delivered to the cloud.
	ItemsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_items_synced_total",
			Help: "Total number of queue items synced to the cloud",
		},
		[]string{"store", "entity_type"},
	)

	// ItemsFailed tracks failed push attempts per error category.
	ItemsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_items_failed_total",
			Help: "Total number of failed push attempts",
		},
		[]string{"store", "category"},
	)

	// ItemsDeadLettered tracks terminal failures per reason.
	ItemsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_items_dead_lettered_total",
			Help: "Total number of items moved to the dead letter pool",
		},
		[]string{"store", "reason"},
	)

	// PushLatency tracks cloud push latency.
	PushLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncline_push_latency_seconds",
			Help:    "Cloud push latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity_type"},
	)

	// QueueDepth tracks pending items per store and entity type.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncline_queue_depth",
			Help: "Pending queue items per store and entity type",
		},
		[]string{"store", "entity_type"},
	)

	// BreakerState exposes the circuit breaker state (0=closed, 1=open,
	// 2=half_open) per guarded resource.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncline_breaker_state",
			Help: "Circuit breaker state per resource (0=closed, 1=open, 2=half_open)",
		},
		[]string{"resource"},
	)

	// AdaptiveBatchSize exposes the live adaptive batch size.
	AdaptiveBatchSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncline_adaptive_batch_size",
			Help: "Current adaptive batch size used for queue fetches",
		},
	)

	// SyncCycles tracks completed sync cycles per outcome.
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_sync_cycles_total",
			Help: "Total number of sync cycles per store and result",
		},
		[]string{"store", "result"},
	)

	// DBConnectionPoolUsage tracks database pool utilization.
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncline_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
