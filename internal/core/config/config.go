package config

import (
	"time"

	"github.com/duyttran/syncline/internal/infra/cloud"
	redisclient "github.com/duyttran/syncline/internal/infra/redis"
	"github.com/duyttran/syncline/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Stores   []StoreConfig      `yaml:"stores"`
	Cloud    cloud.Config       `yaml:"cloud"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
	Retry    RetryConfig        `yaml:"retry"`
	Breaker  BreakerConfig      `yaml:"breaker"`
}

// ServerConfig holds HTTP server settings (metrics endpoint).
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// StoreConfig holds per-store sync settings.
type StoreConfig struct {
	StoreID      string        `yaml:"id"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// RetryConfig holds backoff and adaptive batch sizing settings.
type RetryConfig struct {
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MinBatchSize int           `yaml:"min_batch_size"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	InitialBatch int           `yaml:"initial_batch"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
}
