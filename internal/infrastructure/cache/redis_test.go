package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func newTestArtifact(loc model.StorageLocation) *model.CachedArtifact {
	return &model.CachedArtifact{
		SessionID: uuid.New(),
		Filename:  "clip.mp4",
		Location:  loc,
		CachedAt:  time.Now().Truncate(time.Microsecond),
	}
}

func TestRedisBackend_Get_CacheHit(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisBackend(client, time.Second, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		loc  model.StorageLocation
	}{
		{"local", model.LocalLocation("/srv/downloads/x/clip.mp4")},
		{"remote", model.RemoteLocation("downloads/x/clip.mp4")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifact := newTestArtifact(tt.loc)
			key := "ytdl:https://example.com/" + tt.name + ":mp4"

			cache.Set(ctx, key, artifact, 5*time.Minute)

			got, ok := cache.Get(ctx, key)
			if !ok {
				t.Fatal("expected cache hit")
			}
			if got.SessionID != artifact.SessionID {
				t.Errorf("SessionID = %v, want %v", got.SessionID, artifact.SessionID)
			}
			if got.Filename != artifact.Filename {
				t.Errorf("Filename = %v, want %v", got.Filename, artifact.Filename)
			}
			if got.Location != artifact.Location {
				t.Errorf("Location = %+v, want %+v", got.Location, artifact.Location)
			}
			if !got.CachedAt.Equal(artifact.CachedAt) {
				t.Errorf("CachedAt = %v, want %v", got.CachedAt, artifact.CachedAt)
			}
		})
	}
}

func TestRedisBackend_Get_CacheMiss(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisBackend(client, time.Second, nil)

	got, ok := cache.Get(context.Background(), "ytdl:missing")
	if ok || got != nil {
		t.Errorf("Get() = %v, %v; want nil, false", got, ok)
	}
}

func TestRedisBackend_TTL(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisBackend(client, time.Second, nil)
	ctx := context.Background()

	cache.Set(ctx, "k", newTestArtifact(model.LocalLocation("/x/clip.mp4")), time.Minute)

	if ttl := mr.TTL(artifactCacheKeyPrefix + "k"); ttl != time.Minute {
		t.Errorf("TTL = %v, want %v", ttl, time.Minute)
	}

	mr.FastForward(2 * time.Minute)

	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("expected miss after TTL elapsed")
	}
}

func TestRedisBackend_Delete(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisBackend(client, time.Second, nil)
	ctx := context.Background()

	cache.Set(ctx, "k", newTestArtifact(model.RemoteLocation("downloads/x/clip.mp4")), time.Minute)
	cache.Delete(ctx, "k")
	cache.Delete(ctx, "k")

	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestRedisBackend_CorruptPayload(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisBackend(client, time.Second, nil)

	payloads := map[string]string{
		"not json":     "{{{",
		"bad id":       `{"session_id":"nope","kind":"local","cached_at":"2026-01-01T00:00:00Z"}`,
		"unknown kind": `{"session_id":"` + uuid.NewString() + `","kind":"tape","cached_at":"2026-01-01T00:00:00Z"}`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			if err := mr.Set(artifactCacheKeyPrefix+name, payload); err != nil {
				t.Fatalf("miniredis Set: %v", err)
			}
			if _, ok := cache.Get(context.Background(), name); ok {
				t.Error("expected corrupt payload to degrade to miss")
			}
		})
	}
}

func TestRedisBackend_Unavailable(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewRedisBackend(client, 50*time.Millisecond, nil)
	ctx := context.Background()

	mr.Close()

	// None of these may panic or block past the op timeout.
	cache.Set(ctx, "k", newTestArtifact(model.LocalLocation("/x/clip.mp4")), time.Minute)
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("expected miss when redis is unreachable")
	}
	cache.Delete(ctx, "k")
}

func TestRedisBackend_buildKey(t *testing.T) {
	cache := NewRedisBackend(nil, 0, nil)

	key := cache.buildKey("ytdl:https://example.com/v:mp4")
	expected := "artifact:ytdl:https://example.com/v:mp4"

	if key != expected {
		t.Errorf("buildKey() = %v, want %v", key, expected)
	}
	if cache.opTimeout != defaultOpTimeout {
		t.Errorf("opTimeout = %v, want %v", cache.opTimeout, defaultOpTimeout)
	}
}
