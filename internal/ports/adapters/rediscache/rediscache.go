// Package rediscache keeps ranked moments in Redis with an expiry.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forPelevin/clipper/internal/ports"
)

const (
	keyPrefix  = "clipper:moments:"
	DefaultTTL = 7 * 24 * time.Hour
)

// kv is the slice of the redis client the cache needs.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Cache struct {
	client kv
	ttl    time.Duration
}

// Connect dials addr and pings it once.
func Connect(ctx context.Context, addr string, ttl time.Duration) (*Cache, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(client, ttl), client, nil
}

func New(client kv, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func Key(sourceKey string) string { return keyPrefix + sourceKey }

func (c *Cache) Get(ctx context.Context, sourceKey string) ([]byte, error) {
	b, err := c.client.Get(ctx, Key(sourceKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading moments cache: %w", err)
	}
	return b, nil
}

func (c *Cache) Put(ctx context.Context, sourceKey string, b []byte) error {
	if err := c.client.Set(ctx, Key(sourceKey), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("error writing moments cache: %w", err)
	}
	return nil
}
