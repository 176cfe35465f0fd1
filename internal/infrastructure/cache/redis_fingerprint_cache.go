package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/infrastructure/config"
	"github.com/erp/shopsync/internal/infrastructure/feed"
)

const defaultFingerprintKeyPrefix = "media:fingerprint:"

// RedisFingerprintCache implements feed.FingerprintCache using Redis.
// This is suitable for deployments where fingerprints should survive the
// process and be shared between hosts. Every operation is best effort; a
// cache failure only costs a re-fetch of the media bytes.
type RedisFingerprintCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisFingerprintCache creates a new Redis-based fingerprint cache
func NewRedisFingerprintCache(cfg config.RedisConfig, logger *zap.Logger) (*RedisFingerprintCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisFingerprintCacheWithClient(client, defaultFingerprintKeyPrefix, cfg.TTL, logger), nil
}

// NewRedisFingerprintCacheWithClient creates a cache with an existing Redis
// client. This is useful for testing or when sharing a client across
// components.
func NewRedisFingerprintCacheWithClient(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisFingerprintCache {
	if keyPrefix == "" {
		keyPrefix = defaultFingerprintKeyPrefix
	}
	if ttl <= 0 {
		ttl = 168 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFingerprintCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

// GetFingerprint returns the cached fingerprint for a media version. A Redis
// error is reported as a miss.
func (c *RedisFingerprintCache) GetFingerprint(ctx context.Context, mediaCode, version string) (string, bool) {
	fp, err := c.client.Get(ctx, c.key(mediaCode, version)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Fingerprint cache read failed",
				zap.String("media_code", mediaCode),
				zap.Error(err))
		}
		return "", false
	}
	return fp, true
}

// SetFingerprint stores the fingerprint for a media version with the
// configured TTL. Write failures are logged and swallowed.
func (c *RedisFingerprintCache) SetFingerprint(ctx context.Context, mediaCode, version, fingerprint string) {
	if err := c.client.Set(ctx, c.key(mediaCode, version), fingerprint, c.ttl).Err(); err != nil {
		c.logger.Warn("Fingerprint cache write failed",
			zap.String("media_code", mediaCode),
			zap.Error(err))
	}
}

// Close closes the Redis client
func (c *RedisFingerprintCache) Close() error {
	return c.client.Close()
}

func (c *RedisFingerprintCache) key(mediaCode, version string) string {
	return c.keyPrefix + mediaCode + ":" + version
}

// Ensure RedisFingerprintCache implements feed.FingerprintCache
var _ feed.FingerprintCache = (*RedisFingerprintCache)(nil)
