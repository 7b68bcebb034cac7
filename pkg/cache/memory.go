package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"taskboard-calls/pkg/logger"
)

// MemoryCache is an in-memory key/value cache with per-entry TTL
type MemoryCache[V any] struct {
	mu      sync.Mutex
	data    map[string]*cacheEntry[V]
	ttl     time.Duration
	maxSize int
	clock   clock.Clock
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

// NewMemoryCache creates a cache. A nil clock means wall time.
func NewMemoryCache[V any](defaultTTL time.Duration, maxSize int, clk clock.Clock) *MemoryCache[V] {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryCache[V]{
		data:    make(map[string]*cacheEntry[V]),
		ttl:     defaultTTL,
		maxSize: maxSize,
		clock:   clk,
	}
}

// Set stores a value. A zero ttl uses the default.
func (mc *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if ttl == 0 {
		ttl = mc.ttl
	}
	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldestLocked()
	}

	now := mc.clock.Now()
	mc.data[key] = &cacheEntry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}

	logger.Debug("Cache entry added",
		zap.String("key", key),
		zap.Duration("ttl", ttl),
		zap.Int("size", len(mc.data)),
	)
}

// Get returns the value for key if present and not expired
func (mc *MemoryCache[V]) Get(key string) (V, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	var zero V
	entry, exists := mc.data[key]
	if !exists {
		return zero, false
	}
	if mc.clock.Now().After(entry.expiresAt) {
		delete(mc.data, key)
		return zero, false
	}
	return entry.value, true
}

// Has reports whether a live entry exists for key
func (mc *MemoryCache[V]) Has(key string) bool {
	_, ok := mc.Get(key)
	return ok
}

// Delete removes a value from the cache
func (mc *MemoryCache[V]) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.data, key)
}

// Size returns the number of stored entries, including expired ones not yet collected
func (mc *MemoryCache[V]) Size() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.data)
}

// Purge drops expired entries and returns how many were removed
func (mc *MemoryCache[V]) Purge() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.clock.Now()
	removed := 0
	for key, entry := range mc.data {
		if now.After(entry.expiresAt) {
			delete(mc.data, key)
			removed++
		}
	}
	return removed
}

func (mc *MemoryCache[V]) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range mc.data {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}
	if oldestKey != "" {
		delete(mc.data, oldestKey)
	}
}
