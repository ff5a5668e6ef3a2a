package redisdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/veldt/crystal-backend/internal/platform/logger"
)

// Cache is a small read-through cache used for generated payloads
// (scaffolds, exports). Optional: a nil *Cache is a valid no-op cache.
type Cache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewFromEnv returns nil (no error) when REDIS_ADDR is unset; callers
// treat a nil cache as a miss on every read.
func NewFromEnv(log *logger.Logger) (*Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("redisdb: logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}

	ttl := 24 * time.Hour
	if v := strings.TrimSpace(os.Getenv("REDIS_CACHE_TTL")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			ttl = parsed
		}
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Cache{
		log: log.With("client", "RedisCache"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

// Get returns ("", false) on miss, on a nil cache, and on redis errors;
// cache trouble never fails a request.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.log.Warn("Cache read failed", "key", key, "error", err.Error())
		}
		return "", false
	}
	return val, true
}

func (c *Cache) Set(ctx context.Context, key, value string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.log.Warn("Cache write failed", "key", key, "error", err.Error())
	}
}

func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.log.Warn("Cache delete failed", "key", key, "error", err.Error())
	}
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
