package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenCache remembers which URL first published a fingerprint.
type SeenCache interface {
	Lookup(ctx context.Context, hash string) (url string, found bool, err error)
	Remember(ctx context.Context, hash, url string) error
}

// redisClient is the subset of redis.Cmdable the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisCache is a SeenCache shared between crawler processes.
type RedisCache struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// RedisOptions configures NewRedisCache.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return newRedisCache(client, opts.KeyPrefix, opts.TTL), nil
}

func newRedisCache(client redisClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "ota:fp:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Lookup implements SeenCache.
func (c *RedisCache) Lookup(ctx context.Context, hash string) (string, bool, error) {
	url, err := c.client.Get(ctx, c.prefix+hash).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return url, true, nil
}

// Remember implements SeenCache. The first URL stored for a hash wins.
func (c *RedisCache) Remember(ctx context.Context, hash, url string) error {
	if err := c.client.SetNX(ctx, c.prefix+hash, url, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

// Close releases the underlying client when it owns one.
func (c *RedisCache) Close() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
