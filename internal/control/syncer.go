package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duyttran/syncline/internal/core/config"
	"github.com/duyttran/syncline/internal/infra/cloud"
	redisclient "github.com/duyttran/syncline/internal/infra/redis"
	"github.com/duyttran/syncline/internal/infra/storage"
	"github.com/duyttran/syncline/internal/infra/storage/memory"
	"github.com/duyttran/syncline/internal/infra/storage/postgres"
	"github.com/duyttran/syncline/internal/sync/breaker"
	"github.com/duyttran/syncline/internal/sync/engine"
	"github.com/duyttran/syncline/internal/sync/metrics"
	"github.com/duyttran/syncline/internal/sync/retry"
	"github.com/duyttran/syncline/internal/sync/session"
)

// cloudBreakerName keys the breaker guarding all cloud API pushes.
const cloudBreakerName = "cloud-api"

// Syncer is the top-level coordinator: it owns the queue repos, the retry
// strategy, the circuit breaker, the session manager and the per-store
// sync loops.
type Syncer struct {
	cfg      config.AppConfig
	queue    storage.QueueRepository
	dlq      storage.DeadLetterRepository
	strategy *retry.Strategy
	breakers *breaker.Registry
	sessions *session.Manager
	engine   *engine.Engine
	db       *postgres.DB
	redis    *redisclient.Client
	srv      *http.Server
	log      *slog.Logger
}

// NewSyncer creates a Syncer with all dependencies initialized.
func NewSyncer(cfg config.AppConfig) (*Syncer, error) {
	log := slog.Default()

	// 1. Storage
	var queueRepo storage.QueueRepository
	var dlqRepo storage.DeadLetterRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		queueRepo = postgres.NewQueueRepo(db)
		dlqRepo = postgres.NewDeadLetterRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		queueRepo = memory.NewQueueRepo(store)
		dlqRepo = memory.NewDeadLetterRepo(store)
		log.Info("Using Memory storage")
	}

	// 2. Delivery policy
	strategy := retry.NewStrategy(retry.Config{
		BaseDelay:    cfg.Retry.BaseDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		MinBatchSize: cfg.Retry.MinBatchSize,
		MaxBatchSize: cfg.Retry.MaxBatchSize,
		InitialBatch: cfg.Retry.InitialBatch,
	})

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	})

	// 3. Cloud boundary and session manager
	cloudClient := cloud.NewClient(cfg.Cloud)
	sessions := session.NewManager(cloudClient, log)

	// 4. Engine
	eng := engine.New(engine.Config{
		Queue:      queueRepo,
		DeadLetter: dlqRepo,
		Strategy:   strategy,
		Breaker:    breakers.Get(cloudBreakerName),
		Sessions:   sessions,
		Pusher:     cloudClient,
		Log:        log,
	})

	// 5. Redis (optional)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, depth snapshots disabled", "error", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	return &Syncer{
		cfg:      cfg,
		queue:    queueRepo,
		dlq:      dlqRepo,
		strategy: strategy,
		breakers: breakers,
		sessions: sessions,
		engine:   eng,
		db:       db,
		redis:    redisClient,
		srv:      srv,
		log:      log,
	}, nil
}

// Queue exposes the queue repository to enqueuing collaborators.
func (s *Syncer) Queue() storage.QueueRepository {
	return s.queue
}

// DeadLetters exposes the dead letter repository.
func (s *Syncer) DeadLetters() storage.DeadLetterRepository {
	return s.dlq
}

// Sessions exposes the session manager so unrelated code can observe the
// active session instead of starting a redundant one.
func (s *Syncer) Sessions() *session.Manager {
	return s.sessions
}

// Start starts the metrics server and one sync loop per configured store.
func (s *Syncer) Start(ctx context.Context) error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	for _, store := range s.cfg.Stores {
		s.log.Info("Starting sync loop", "store", store.StoreID, "interval", store.SyncInterval)
		go s.runStoreLoop(ctx, store)
	}

	go s.runMetricsUpdater(ctx)

	return nil
}

// Stop shuts the syncer down.
func (s *Syncer) Stop(ctx context.Context) error {
	s.log.Info("Stopping Syncer...")

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.srv.Shutdown(ctx)
}

// runStoreLoop runs periodic sync cycles for one store. An open breaker
// lengthens the pause so a down remote is not hammered with session
// starts.
func (s *Syncer) runStoreLoop(ctx context.Context, store config.StoreConfig) {
	b := s.breakers.Get(cloudBreakerName)

	for {
		interval := store.SyncInterval
		if b.State() == breaker.StateOpen {
			interval = store.SyncInterval * 4
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := s.syncOnce(ctx, store.StoreID); err != nil {
			if errors.Is(err, session.ErrCycleInProgress) {
				continue
			}
			s.log.Warn("Sync cycle failed", "store", store.StoreID, "error", err)
		}
	}
}

// syncOnce runs one cycle, holding the cross-process advisory lock when
// redis is available.
func (s *Syncer) syncOnce(ctx context.Context, storeID string) error {
	if s.redis != nil {
		acquired, err := s.redis.AcquireCycleLock(ctx, storeID, 5*time.Minute)
		if err != nil {
			s.log.Warn("Cycle lock check failed, proceeding without it", "store", storeID, "error", err)
		} else if !acquired {
			s.log.Debug("Cycle lock held elsewhere, skipping", "store", storeID)
			return nil
		} else {
			defer func() {
				if err := s.redis.ReleaseCycleLock(context.WithoutCancel(ctx), storeID); err != nil {
					s.log.Warn("Failed to release cycle lock", "store", storeID, "error", err)
				}
			}()
		}
	}

	return s.engine.RunOnce(ctx, storeID)
}

// runMetricsUpdater periodically exports breaker state, batch size and
// queue depths (to prometheus, and to redis when configured).
func (s *Syncer) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range s.breakers.All() {
				metrics.BreakerState.WithLabelValues(b.Name()).Set(float64(b.State()))
			}
			metrics.AdaptiveBatchSize.Set(float64(s.strategy.BatchSize()))

			for _, store := range s.cfg.Stores {
				depths, err := s.queue.PartitionDepths(ctx, store.StoreID)
				if err != nil {
					s.log.Debug("Failed to read partition depths", "store", store.StoreID, "error", err)
					continue
				}
				for entityType, depth := range depths {
					metrics.QueueDepth.WithLabelValues(store.StoreID, entityType).Set(float64(depth))
				}
				if s.redis != nil {
					if err := s.redis.PublishDepths(ctx, store.StoreID, depths); err != nil {
						s.log.Debug("Failed to publish depths", "store", store.StoreID, "error", err)
					}
				}
			}
		}
	}
}
