package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/tfplatform/eventfabric/pkg/metrics"
)

// MemcacheProvider is a Memcached-backed cache provider
type MemcacheProvider struct {
	client     *memcache.Client
	defaultTTL time.Duration
}

// MemcacheConfig configures the Memcached provider
type MemcacheConfig struct {
	Servers      []string
	MaxIdleConns int
	Timeout      time.Duration
	DefaultTTL   time.Duration
}

// NewMemcacheProvider creates a new Memcached cache provider
func NewMemcacheProvider(cfg MemcacheConfig) (*MemcacheProvider, error) {
	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{"localhost:11211"}
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	client := memcache.New(cfg.Servers...)
	client.MaxIdleConns = cfg.MaxIdleConns
	client.Timeout = cfg.Timeout

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to Memcached: %w", err)
	}

	return &MemcacheProvider{client: client, defaultTTL: cfg.DefaultTTL}, nil
}

// Get retrieves a value by key
func (p *MemcacheProvider) Get(ctx context.Context, key string) ([]byte, bool) {
	item, err := p.client.Get(keyPrefix + key)
	if err != nil {
		metrics.GetProvider().RecordCacheMiss("memcached")
		return nil, false
	}
	metrics.GetProvider().RecordCacheHit("memcached")
	return item.Value, true
}

// Set stores a value with the specified TTL. Memcached expirations are in
// whole seconds.
func (p *MemcacheProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = p.defaultTTL
	}
	err := p.client.Set(&memcache.Item{
		Key:        keyPrefix + key,
		Value:      value,
		Expiration: int32(ttl / time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key
func (p *MemcacheProvider) Delete(ctx context.Context, key string) error {
	err := p.client.Delete(keyPrefix + key)
	if err != nil && err != memcache.ErrCacheMiss {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}
	return nil
}

// Clear flushes the Memcached instance
func (p *MemcacheProvider) Clear(ctx context.Context) error {
	if err := p.client.FlushAll(); err != nil {
		return fmt.Errorf("failed to flush Memcached: %w", err)
	}
	return nil
}

// Close is a no-op; the Memcached client holds no persistent resources
func (p *MemcacheProvider) Close() error {
	return nil
}
