// Package cache mirrors the latest window statistics of every series into
// Redis so that other processes can read them without the SQLite store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/winstat/pkg/analytics"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "winstat:"

// Config holds the Redis connection settings under cache.redis.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	TTL         time.Duration `mapstructure:"ttl"`
	RecentLimit int           `mapstructure:"recent_limit"`
}

// Enabled reports whether a Redis address is configured.
func (c Config) Enabled() bool {
	return c.Addr != ""
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.TTL <= 0:
		return fmt.Errorf("cache.redis.ttl must be positive, got %s", c.TTL)
	case c.RecentLimit < 1:
		return fmt.Errorf("cache.redis.recent_limit must be at least 1, got %d", c.RecentLimit)
	}
	return nil
}

// RedisCache stores the latest WindowStat per series plus a capped list of
// recent snapshots, newest first.
type RedisCache struct {
	client      *redis.Client
	ttl         time.Duration
	recentLimit int
}

// New creates a cache client. No connection is made until first use.
func New(cfg Config) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{
		client:      client,
		ttl:         cfg.TTL,
		recentLimit: cfg.RecentLimit,
	}
}

func latestKey(series string) string { return keyPrefix + "latest:" + series }
func recentKey(series string) string { return keyPrefix + "recent:" + series }

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connections.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Put records stat as the latest snapshot of its series and prepends it to
// the series' recent list.
func (c *RedisCache) Put(ctx context.Context, stat analytics.WindowStat) error {
	payload, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("marshal window: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, latestKey(stat.Series), payload, c.ttl)
	pipe.LPush(ctx, recentKey(stat.Series), payload)
	pipe.LTrim(ctx, recentKey(stat.Series), 0, int64(c.recentLimit-1))
	pipe.Expire(ctx, recentKey(stat.Series), c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}
	return nil
}

// Get returns the latest snapshot of series, or nil if none is cached.
func (c *RedisCache) Get(ctx context.Context, series string) (*analytics.WindowStat, error) {
	data, err := c.client.Get(ctx, latestKey(series)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var stat analytics.WindowStat
	if err := json.Unmarshal(data, &stat); err != nil {
		return nil, fmt.Errorf("unmarshal window: %w", err)
	}
	return &stat, nil
}

// Recent returns up to limit cached snapshots of series, newest first.
func (c *RedisCache) Recent(ctx context.Context, series string, limit int) ([]analytics.WindowStat, error) {
	if limit <= 0 || limit > c.recentLimit {
		limit = c.recentLimit
	}
	items, err := c.client.LRange(ctx, recentKey(series), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	stats := make([]analytics.WindowStat, 0, len(items))
	for _, item := range items {
		var stat analytics.WindowStat
		if err := json.Unmarshal([]byte(item), &stat); err != nil {
			return nil, fmt.Errorf("unmarshal window: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
