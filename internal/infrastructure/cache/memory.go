package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediadrop/internal/lru"
)

// MemoryBackend is a process-local Backend on top of the TTL-LRU cache.
type MemoryBackend struct {
	cache  *lru.Cache[string, model.CachedArtifact]
	logger *slog.Logger
}

// NewMemoryBackend creates a MemoryBackend holding at most capacity entries.
func NewMemoryBackend(capacity int, logger *slog.Logger) (*MemoryBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &MemoryBackend{logger: logger}
	c, err := lru.New[string, model.CachedArtifact](capacity, lru.WithEvictFunc(b.onEvict))
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	b.cache = c
	return b, nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) (*model.CachedArtifact, bool) {
	artifact, ok := b.cache.Get(key)
	if !ok {
		metrics.CacheOperationsTotal.WithLabelValues(
			metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeMemory,
		).Inc()
		return nil, false
	}

	metrics.CacheOperationsTotal.WithLabelValues(
		metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeMemory,
	).Inc()
	return &artifact, true
}

func (b *MemoryBackend) Set(_ context.Context, key string, artifact *model.CachedArtifact, ttl time.Duration) {
	if artifact == nil {
		return
	}
	b.cache.Put(key, *artifact, ttl)
	metrics.CacheOperationsTotal.WithLabelValues(
		metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeMemory,
	).Inc()
}

func (b *MemoryBackend) Delete(_ context.Context, key string) {
	b.cache.Remove(key)
	metrics.CacheOperationsTotal.WithLabelValues(
		metrics.CacheOpDelete, metrics.CacheStatusSuccess, metrics.CacheTypeMemory,
	).Inc()
}

// Len reports the number of cached entries.
func (b *MemoryBackend) Len() int {
	return b.cache.Len()
}

func (b *MemoryBackend) onEvict(key string, artifact model.CachedArtifact, reason lru.EvictReason) {
	metrics.CacheEvictionsTotal.WithLabelValues(reason.String()).Inc()
	b.logger.Debug("cache entry evicted",
		slog.String("cache_key", key),
		slog.String("session_id", artifact.SessionID.String()),
		slog.String("reason", reason.String()),
	)
}
