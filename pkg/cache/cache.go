// Package cache provides the shared cache layer used for enrichment lookup
// results and email template reads. Providers: in-memory, Redis, Memcached.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tfplatform/eventfabric/pkg/config"
)

// Provider defines the interface that all cache providers implement
type Provider interface {
	// Get retrieves a value by key. Returns nil, false when the key does
	// not exist or is expired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with the specified TTL. A zero ttl means the
	// provider default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Clear removes all items
	Clear(ctx context.Context) error

	// Close releases provider resources
	Close() error
}

// NewProviderFromConfig builds the configured cache provider
func NewProviderFromConfig(cfg config.CacheConfig) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider(MemoryConfig{DefaultTTL: cfg.DefaultTTL}), nil
	case "redis":
		return NewRedisProvider(RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			DefaultTTL: cfg.DefaultTTL,
		})
	case "memcached":
		return NewMemcacheProvider(MemcacheConfig{
			Servers:    cfg.MemcachedServers,
			DefaultTTL: cfg.DefaultTTL,
		})
	default:
		return nil, fmt.Errorf("unknown cache provider: %s", cfg.Provider)
	}
}
