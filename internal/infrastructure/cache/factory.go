package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/shopsync/internal/infrastructure/config"
	"github.com/erp/shopsync/internal/infrastructure/feed"
)

// FingerprintCacheFactory creates fingerprint caches based on configuration
type FingerprintCacheFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FingerprintCacheFactoryOption is a functional option for configuring the factory
type FingerprintCacheFactoryOption func(*FingerprintCacheFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FingerprintCacheFactoryOption {
	return func(f *FingerprintCacheFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory cache
// when Redis is unavailable. Default is true (allow fallback).
func WithInMemoryFallback(allow bool) FingerprintCacheFactoryOption {
	return func(f *FingerprintCacheFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewFingerprintCacheFactory creates a new factory
func NewFingerprintCacheFactory(cfg config.RedisConfig, opts ...FingerprintCacheFactoryOption) *FingerprintCacheFactory {
	f := &FingerprintCacheFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateCache assembles the fingerprint cache for a run. With Redis disabled
// it returns the process-local cache; with Redis enabled it returns the
// tiered cache. An unreachable Redis degrades to the local cache when
// fallback is allowed, otherwise it is an error.
func (f *FingerprintCacheFactory) CreateCache() (feed.FingerprintCache, error) {
	if !f.redisConfig.Enabled {
		return NewMemoryFingerprintCache(), nil
	}

	l2, err := NewRedisFingerprintCache(f.redisConfig, f.logger)
	if err != nil {
		if f.allowInMemoryFallback {
			f.logger.Warn("Redis unavailable, falling back to in-memory fingerprint cache. "+
				"Fingerprints will not be shared across runs.",
				zap.Error(err),
			)
			return NewMemoryFingerprintCache(), nil
		}
		return nil, fmt.Errorf("failed to create Redis fingerprint cache: %w", err)
	}

	return NewTieredFingerprintCache(NewMemoryFingerprintCache(), l2, f.logger), nil
}
