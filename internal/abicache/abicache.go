// Package abicache keeps fetched contract ABIs in Redis so restarts and
// sibling bots do not go back to the rate-limited block explorer.
package abicache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "oraclebot:abi:"
	DefaultTTL = 7 * 24 * time.Hour
)

// Cache stores raw ABI JSON keyed by contract address.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a Cache backed by Redis.
func New(redisURL, password string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Close shuts down the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Get returns the cached ABI for address. Any Redis error reads as a miss.
func (c *Cache) Get(ctx context.Context, address string) (string, bool) {
	raw, err := c.rdb.Get(ctx, key(address)).Result()
	if err != nil || raw == "" {
		return "", false
	}
	return raw, true
}

// Put records raw under address with the cache TTL.
func (c *Cache) Put(ctx context.Context, address, raw string) {
	c.rdb.Set(ctx, key(address), raw, c.ttl) //nolint:errcheck
}

func key(address string) string {
	return keyPrefix + strings.ToLower(address)
}
