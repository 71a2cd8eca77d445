package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tfplatform/eventfabric/pkg/metrics"
)

// keyPrefix namespaces fabric cache keys inside a shared Redis instance
const keyPrefix = "eventfabric:cache:"

// RedisProvider is a Redis-backed cache provider
type RedisProvider struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// RedisConfig configures the Redis provider
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	DefaultTTL time.Duration
}

// NewRedisProvider creates a new Redis cache provider
func NewRedisProvider(cfg RedisConfig) (*RedisProvider, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis cache: %w", err)
	}

	return &RedisProvider{client: client, defaultTTL: cfg.DefaultTTL}, nil
}

// Get retrieves a value by key
func (p *RedisProvider) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := p.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		metrics.GetProvider().RecordCacheMiss("redis")
		return nil, false
	}
	metrics.GetProvider().RecordCacheHit("redis")
	return val, true
}

// Set stores a value with the specified TTL
func (p *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = p.defaultTTL
	}
	if err := p.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key
func (p *RedisProvider) Delete(ctx context.Context, key string) error {
	if err := p.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// Clear removes all fabric cache keys
func (p *RedisProvider) Clear(ctx context.Context) error {
	iter := p.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := p.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
