package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	// artifactCacheKeyPrefix is the prefix for artifact cache keys in Redis.
	artifactCacheKeyPrefix = "artifact:"

	defaultOpTimeout = 250 * time.Millisecond
)

// artifactJSON is the JSON representation of a CachedArtifact for caching.
// Using explicit struct avoids coupling to domain model's JSON tags.
type artifactJSON struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Kind      string `json:"kind"`
	Path      string `json:"path,omitempty"`
	Key       string `json:"key,omitempty"`
	CachedAt  string `json:"cached_at"`
}

// RedisBackend is a Backend shared across processes through Redis.
// Every call is bounded by opTimeout and any failure is degraded to a miss.
type RedisBackend struct {
	client    redis.UniversalClient
	opTimeout time.Duration
	logger    *slog.Logger
}

// NewRedisBackend creates a Redis-backed artifact cache.
func NewRedisBackend(client redis.UniversalClient, opTimeout time.Duration, logger *slog.Logger) *RedisBackend {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBackend{
		client:    client,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

// Get retrieves an artifact from Redis.
func (c *RedisBackend) Get(ctx context.Context, key string) (*model.CachedArtifact, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.record(metrics.CacheOpGet, metrics.CacheStatusMiss)
			return nil, false
		}
		c.unavailable(metrics.CacheOpGet, key, err)
		return nil, false
	}

	artifact, err := c.deserialize(data)
	if err != nil {
		c.unavailable(metrics.CacheOpGet, key, fmt.Errorf("deserialize artifact: %w", err))
		return nil, false
	}

	c.record(metrics.CacheOpGet, metrics.CacheStatusHit)
	return artifact, true
}

// Set stores an artifact in Redis with the specified TTL.
func (c *RedisBackend) Set(ctx context.Context, key string, artifact *model.CachedArtifact, ttl time.Duration) {
	if artifact == nil {
		return
	}

	data, err := c.serialize(artifact)
	if err != nil {
		c.unavailable(metrics.CacheOpSet, key, fmt.Errorf("serialize artifact: %w", err))
		return
	}

	if ttl < 0 {
		ttl = 0
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.buildKey(key), data, ttl).Err(); err != nil {
		c.unavailable(metrics.CacheOpSet, key, err)
		return
	}
	c.record(metrics.CacheOpSet, metrics.CacheStatusSuccess)
}

// Delete removes an artifact from Redis.
func (c *RedisBackend) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.buildKey(key)).Err(); err != nil {
		c.unavailable(metrics.CacheOpDelete, key, err)
		return
	}
	c.record(metrics.CacheOpDelete, metrics.CacheStatusSuccess)
}

// buildKey constructs the Redis key for a cache key.
func (c *RedisBackend) buildKey(key string) string {
	return artifactCacheKeyPrefix + key
}

func (c *RedisBackend) record(op, status string) {
	metrics.CacheOperationsTotal.WithLabelValues(op, status, metrics.CacheTypeRedis).Inc()
}

func (c *RedisBackend) unavailable(op, key string, err error) {
	c.record(op, metrics.CacheStatusUnavailable)
	c.logger.Warn("cache unavailable, degrading to miss",
		slog.String("operation", op),
		slog.String("cache_key", key),
		slog.String("error", fmt.Errorf("%w: %w", model.ErrCacheUnavailable, err).Error()),
	)
}

// serialize converts a CachedArtifact to JSON bytes.
func (c *RedisBackend) serialize(a *model.CachedArtifact) ([]byte, error) {
	v := artifactJSON{
		SessionID: a.SessionID.String(),
		Filename:  a.Filename,
		Kind:      string(a.Location.Kind),
		Path:      a.Location.Path,
		Key:       a.Location.Key,
		CachedAt:  a.CachedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(v)
}

// deserialize converts JSON bytes to a CachedArtifact.
func (c *RedisBackend) deserialize(data []byte) (*model.CachedArtifact, error) {
	var v artifactJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(v.SessionID)
	if err != nil {
		return nil, fmt.Errorf("parse session ID: %w", err)
	}

	cachedAt, err := time.Parse(time.RFC3339Nano, v.CachedAt)
	if err != nil {
		return nil, fmt.Errorf("parse cached_at: %w", err)
	}

	var loc model.StorageLocation
	switch model.StorageKind(v.Kind) {
	case model.StorageLocal:
		loc = model.LocalLocation(v.Path)
	case model.StorageRemote:
		loc = model.RemoteLocation(v.Key)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", v.Kind)
	}

	return &model.CachedArtifact{
		SessionID: id,
		Filename:  v.Filename,
		Location:  loc,
		CachedAt:  cachedAt,
	}, nil
}
