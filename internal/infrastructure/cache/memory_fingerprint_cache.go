package cache

import (
	"context"
	"sync"

	"github.com/erp/shopsync/internal/infrastructure/feed"
)

// MemoryFingerprintCache implements feed.FingerprintCache using an in-memory
// map. This is suitable for single runs and testing; entries never expire
// because a (media code, version) pair is content-addressed, a new version
// is a new key.
type MemoryFingerprintCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryFingerprintCache creates a new in-memory fingerprint cache
func NewMemoryFingerprintCache() *MemoryFingerprintCache {
	return &MemoryFingerprintCache{
		entries: make(map[string]string),
	}
}

// GetFingerprint returns the cached fingerprint for a media version
func (c *MemoryFingerprintCache) GetFingerprint(_ context.Context, mediaCode, version string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fp, ok := c.entries[mediaCode+":"+version]
	return fp, ok
}

// SetFingerprint stores the fingerprint for a media version
func (c *MemoryFingerprintCache) SetFingerprint(_ context.Context, mediaCode, version, fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[mediaCode+":"+version] = fingerprint
}

// Size returns the number of cached fingerprints (for testing/monitoring)
func (c *MemoryFingerprintCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Ensure MemoryFingerprintCache implements feed.FingerprintCache
var _ feed.FingerprintCache = (*MemoryFingerprintCache)(nil)
