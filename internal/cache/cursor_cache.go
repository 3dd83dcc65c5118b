// Package cache provides a Redis-backed record of each symbol's update
// cursor. When Redis is unavailable, operations degrade gracefully: reads
// miss and writes are dropped, and callers fall back to the database.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"midas-engine/config"
)

// cursorKey is the key pattern for the last persisted 1m open_time.
const cursorKey = "candles:%s:last_1m_open_time"

// cursorTTL bounds staleness of an abandoned symbol's cursor entry.
const cursorTTL = 48 * time.Hour

// CursorCache records the most recent 1m open_time persisted per symbol.
type CursorCache struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewCursorCache connects to Redis and verifies connectivity.
func NewCursorCache(cfg config.RedisConfig, log zerolog.Logger) (*CursorCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &CursorCache{
		client: client,
		log:    log.With().Str("component", "cursor_cache").Logger(),
	}, nil
}

// GetCursor returns the cached last 1m open_time for the symbol. The second
// return is false on a miss or any Redis failure.
func (c *CursorCache) GetCursor(ctx context.Context, symbol string) (int64, bool) {
	val, err := c.client.Get(ctx, fmt.Sprintf(cursorKey, symbol)).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("cursor read failed")
		return 0, false
	}
	cursor, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		c.log.Warn().Str("symbol", symbol).Str("value", val).Msg("corrupt cursor entry")
		return 0, false
	}
	return cursor, true
}

// SetCursor records the last persisted 1m open_time for the symbol. Failures
// are logged and dropped; the database stays the source of truth.
func (c *CursorCache) SetCursor(ctx context.Context, symbol string, openTime int64) {
	key := fmt.Sprintf(cursorKey, symbol)
	if err := c.client.Set(ctx, key, strconv.FormatInt(openTime, 10), cursorTTL).Err(); err != nil {
		c.log.Warn().Str("symbol", symbol).Err(err).Msg("cursor write failed")
	}
}

// Close releases the Redis connection.
func (c *CursorCache) Close() error {
	return c.client.Close()
}
