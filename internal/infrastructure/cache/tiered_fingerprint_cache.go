package cache

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/infrastructure/feed"
)

// TieredFingerprintCache implements a two-tier caching strategy
// L1: Local in-memory cache (fast, but local to the run)
// L2: Redis cache (slower, but shared across runs and hosts)
// There is no invalidation channel: a fingerprint is immutable for a given
// (media code, version) pair, so stale entries cannot exist.
type TieredFingerprintCache struct {
	l1     *MemoryFingerprintCache
	l2     *RedisFingerprintCache
	logger *zap.Logger

	// Stats for monitoring
	l1Hits   int64
	l1Misses int64
	l2Hits   int64
	l2Misses int64
}

// NewTieredFingerprintCache creates a new tiered fingerprint cache
func NewTieredFingerprintCache(l1 *MemoryFingerprintCache, l2 *RedisFingerprintCache, logger *zap.Logger) *TieredFingerprintCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredFingerprintCache{
		l1:     l1,
		l2:     l2,
		logger: logger,
	}
}

// GetFingerprint retrieves a fingerprint from cache (L1 -> L2). An L2 hit
// populates L1 so repeated lookups in the same run stay local.
func (c *TieredFingerprintCache) GetFingerprint(ctx context.Context, mediaCode, version string) (string, bool) {
	if fp, ok := c.l1.GetFingerprint(ctx, mediaCode, version); ok {
		atomic.AddInt64(&c.l1Hits, 1)
		return fp, true
	}
	atomic.AddInt64(&c.l1Misses, 1)

	if fp, ok := c.l2.GetFingerprint(ctx, mediaCode, version); ok {
		atomic.AddInt64(&c.l2Hits, 1)
		c.l1.SetFingerprint(ctx, mediaCode, version, fp)
		return fp, true
	}
	atomic.AddInt64(&c.l2Misses, 1)

	return "", false
}

// SetFingerprint stores a fingerprint in both tiers
func (c *TieredFingerprintCache) SetFingerprint(ctx context.Context, mediaCode, version, fingerprint string) {
	c.l1.SetFingerprint(ctx, mediaCode, version, fingerprint)
	c.l2.SetFingerprint(ctx, mediaCode, version, fingerprint)
}

// Close releases the Redis tier
func (c *TieredFingerprintCache) Close() error {
	return c.l2.Close()
}

// FingerprintCacheStats holds hit and miss counters per tier
type FingerprintCacheStats struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
	Entries  int64
}

// Stats returns statistics about cache hits and misses
func (c *TieredFingerprintCache) Stats() FingerprintCacheStats {
	return FingerprintCacheStats{
		L1Hits:   atomic.LoadInt64(&c.l1Hits),
		L1Misses: atomic.LoadInt64(&c.l1Misses),
		L2Hits:   atomic.LoadInt64(&c.l2Hits),
		L2Misses: atomic.LoadInt64(&c.l2Misses),
		Entries:  int64(c.l1.Size()),
	}
}

// Ensure TieredFingerprintCache implements feed.FingerprintCache
var _ feed.FingerprintCache = (*TieredFingerprintCache)(nil)
