package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

// Backend memoizes resolved artifacts by cache key.
// Failures never surface to callers: an unavailable backend behaves as an
// empty one, so the request falls through to a fresh download.
type Backend interface {
	// Get returns the cached artifact, or false on miss or failure.
	Get(ctx context.Context, key string) (*model.CachedArtifact, bool)

	// Set stores an artifact for ttl. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, artifact *model.CachedArtifact, ttl time.Duration)

	// Delete removes key. It is a no-op if key is absent.
	Delete(ctx context.Context, key string)
}

// Kind selects a Backend implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
)

// Options configures NewBackend.
type Options struct {
	Kind      Kind
	Capacity  int
	OpTimeout time.Duration
	Logger    *slog.Logger
}

// NewBackend builds the backend selected by opts.Kind. The choice is made
// once at startup. client is only used for KindRedis.
func NewBackend(opts Options, client redis.UniversalClient) (Backend, error) {
	switch opts.Kind {
	case KindMemory, "":
		return NewMemoryBackend(opts.Capacity, opts.Logger)
	case KindRedis:
		if client == nil {
			return nil, fmt.Errorf("redis cache backend requires a redis client")
		}
		return NewRedisBackend(client, opts.OpTimeout, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Kind)
	}
}
