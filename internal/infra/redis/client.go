package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for operator visibility and advisory
// cross-process cycle locks. The in-process session registry remains the
// authority for cycle exclusion; the lock here only guards against two
// daemon instances syncing the same store.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func depthsKey(storeID string) string {
	return fmt.Sprintf("sync:depths:%s", storeID)
}

func cycleLockKey(storeID string) string {
	return fmt.Sprintf("sync:cycle:%s", storeID)
}

// PublishDepths writes the current pending-per-entity-type snapshot.
func (c *Client) PublishDepths(ctx context.Context, storeID string, depths map[string]int) error {
	key := depthsKey(storeID)

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(depths) > 0 {
		fields := make(map[string]interface{}, len(depths))
		for entityType, depth := range depths {
			fields[entityType] = depth
		}
		pipe.HSet(ctx, key, fields)
	}
	pipe.Expire(ctx, key, 10*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish depths: %w", err)
	}
	return nil
}

// Depths reads back the last published snapshot for a store.
func (c *Client) Depths(ctx context.Context, storeID string) (map[string]int, error) {
	fields, err := c.rdb.HGetAll(ctx, depthsKey(storeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read depths: %w", err)
	}

	depths := make(map[string]int, len(fields))
	for entityType, raw := range fields {
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		depths[entityType] = n
	}
	return depths, nil
}

// AcquireCycleLock takes the advisory cross-process lock for a store's
// sync cycle. Returns false when another process holds it.
func (c *Client) AcquireCycleLock(ctx context.Context, storeID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, cycleLockKey(storeID), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire cycle lock: %w", err)
	}
	return ok, nil
}

// ReleaseCycleLock drops the advisory lock.
func (c *Client) ReleaseCycleLock(ctx context.Context, storeID string) error {
	if err := c.rdb.Del(ctx, cycleLockKey(storeID)).Err(); err != nil {
		return fmt.Errorf("failed to release cycle lock: %w", err)
	}
	return nil
}
