package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tfplatform/eventfabric/pkg/metrics"
)

// MemoryProvider is an in-process cache with TTL-based expiry
type MemoryProvider struct {
	mu         sync.RWMutex
	items      map[string]memoryItem
	defaultTTL time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero = never
}

// MemoryConfig configures the in-memory provider
type MemoryConfig struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

// NewMemoryProvider creates a new in-memory cache provider
func NewMemoryProvider(cfg MemoryConfig) *MemoryProvider {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}

	p := &MemoryProvider{
		items:      make(map[string]memoryItem),
		defaultTTL: cfg.DefaultTTL,
		stopCh:     make(chan struct{}),
	}

	go p.cleanupLoop(cfg.CleanupInterval)
	return p
}

func (p *MemoryProvider) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			p.mu.Lock()
			for k, it := range p.items {
				if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
					delete(p.items, k)
				}
			}
			p.mu.Unlock()
		}
	}
}

// Get retrieves a value by key
func (p *MemoryProvider) Get(ctx context.Context, key string) ([]byte, bool) {
	p.mu.RLock()
	it, ok := p.items[key]
	p.mu.RUnlock()

	if !ok || (!it.expiresAt.IsZero() && time.Now().After(it.expiresAt)) {
		metrics.GetProvider().RecordCacheMiss("memory")
		return nil, false
	}

	metrics.GetProvider().RecordCacheHit("memory")
	return it.value, true
}

// Set stores a value with the specified TTL
func (p *MemoryProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = p.defaultTTL
	}

	it := memoryItem{value: value}
	if ttl > 0 {
		it.expiresAt = time.Now().Add(ttl)
	}

	p.mu.Lock()
	p.items[key] = it
	p.mu.Unlock()
	return nil
}

// Delete removes a key
func (p *MemoryProvider) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	delete(p.items, key)
	p.mu.Unlock()
	return nil
}

// Clear removes all items
func (p *MemoryProvider) Clear(ctx context.Context) error {
	p.mu.Lock()
	p.items = make(map[string]memoryItem)
	p.mu.Unlock()
	return nil
}

// Close stops the cleanup loop
func (p *MemoryProvider) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	return nil
}
