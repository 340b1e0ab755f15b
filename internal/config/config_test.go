package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Session.Timeout != 5*time.Minute {
		t.Errorf("expected session timeout 5m, got %v", cfg.Session.Timeout)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("expected memory cache backend, got %s", cfg.Cache.Backend)
	}
	if cfg.Cache.Capacity != 256 {
		t.Errorf("expected cache capacity 256, got %d", cfg.Cache.Capacity)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected cache TTL 30m, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.FormatCapacity != 128 || cfg.Cache.FormatTTL != 30*time.Minute {
		t.Errorf("expected format cache 128/30m, got %d/%v", cfg.Cache.FormatCapacity, cfg.Cache.FormatTTL)
	}
	if cfg.Downloader.Timeout >= cfg.Session.Timeout {
		t.Errorf("download timeout %v must be shorter than session timeout %v", cfg.Downloader.Timeout, cfg.Session.Timeout)
	}
	if cfg.Downloader.MaxConcurrent != 4 {
		t.Errorf("expected 4 concurrent downloads, got %d", cfg.Downloader.MaxConcurrent)
	}
	if cfg.RabbitMQ.Queue != "session_events" {
		t.Errorf("expected queue session_events, got %s", cfg.RabbitMQ.Queue)
	}
	if got := cfg.PresignTTL(); got != cfg.Session.Timeout {
		t.Errorf("presign TTL should default to the session timeout, got %v", got)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SESSION_TIMEOUT", "90s")
	t.Setenv("DOWNLOAD_TIMEOUT", "60s")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("STORAGE_PRESIGN_TTL", "1h")
	t.Setenv("REDIS_HOST", "cache.internal")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Timeout != 90*time.Second {
		t.Errorf("expected 90s, got %v", cfg.Session.Timeout)
	}
	if cfg.Cache.Backend != "redis" {
		t.Errorf("expected redis, got %s", cfg.Cache.Backend)
	}
	if cfg.PresignTTL() != time.Hour {
		t.Errorf("expected presign TTL 1h, got %v", cfg.PresignTTL())
	}
	if cfg.Redis.Addr() != "cache.internal:6379" {
		t.Errorf("unexpected redis addr %s", cfg.Redis.Addr())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "unknown cache backend", env: map[string]string{"CACHE_BACKEND": "memcached"}, wantErr: "CACHE_BACKEND"},
		{name: "zero session timeout", env: map[string]string{"SESSION_TIMEOUT": "0s"}, wantErr: "SESSION_TIMEOUT"},
		{name: "zero cache capacity", env: map[string]string{"CACHE_CAPACITY": "0"}, wantErr: "CACHE_CAPACITY"},
		{name: "zero format cache capacity", env: map[string]string{"FORMAT_CACHE_CAPACITY": "0"}, wantErr: "FORMAT_CACHE_CAPACITY"},
		{name: "zero format cache ttl", env: map[string]string{"FORMAT_CACHE_TTL": "0s"}, wantErr: "FORMAT_CACHE_TTL"},
		{name: "zero concurrency", env: map[string]string{"DOWNLOAD_MAX_CONCURRENT": "0"}, wantErr: "DOWNLOAD_MAX_CONCURRENT"},
		{name: "port out of range", env: map[string]string{"API_PORT": "70000"}, wantErr: "API_PORT"},
		{name: "download outlives session", env: map[string]string{"SESSION_TIMEOUT": "2m", "DOWNLOAD_TIMEOUT": "2m"}, wantErr: "DOWNLOAD_TIMEOUT"},
		{name: "default download timeout with short session", env: map[string]string{"SESSION_TIMEOUT": "1m"}, wantErr: "DOWNLOAD_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLogConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (LogConfig{Level: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
