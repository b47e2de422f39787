// Package cache provides a small TTL cache used to deduplicate attachment uploads.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// KeyHashLen is the length of keys produced by HashKey (32 hex chars = 128-bit key space).
	KeyHashLen = 32

	// CleanupInterval controls how often stale entries are purged.
	CleanupInterval = 10 * time.Minute
)

// Entry holds a cached value with the time it was stored.
type Entry[V any] struct {
	Value     V
	Timestamp time.Time
}

// TTL is a concurrency-safe map whose entries expire after a fixed duration.
// Expired entries are dropped on lookup and swept at most every CleanupInterval.
type TTL[V any] struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[string]Entry[V]
	lastSweep time.Time
	now       func() time.Time
}

// NewTTL creates a cache whose entries live for ttl. A non-positive ttl disables expiry.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{ttl: ttl, entries: make(map[string]Entry[V]), now: time.Now}
}

// HashKey derives a stable key from the given byte slices.
func HashKey(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		_, _ = h.Write(part)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:KeyHashLen]
}

// Get returns the live value for key.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(entry, c.now()) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Put stores value under key.
func (c *TTL[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[key] = Entry[V]{Value: value, Timestamp: now}
	if now.Sub(c.lastSweep) >= CleanupInterval {
		c.sweepLocked(now)
	}
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including ones not yet swept.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SetTTL changes the lifetime applied to existing and future entries.
func (c *TTL[V]) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

func (c *TTL[V]) expired(entry Entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(entry.Timestamp) > c.ttl
}

func (c *TTL[V]) sweepLocked(now time.Time) {
	for key, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, key)
		}
	}
	c.lastSweep = now
}
