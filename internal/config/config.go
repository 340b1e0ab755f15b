package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Log        LogConfig
	Server     ServerConfig
	Session    SessionConfig
	Storage    StorageConfig
	Cache      CacheConfig
	Downloader DownloaderConfig
	Events     EventsConfig
	Worker     WorkerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	MinIO      MinIOConfig
	RabbitMQ   RabbitMQConfig
}

type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// SlogLevel maps Level to a slog.Level. Unknown values fall back to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"15m"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"30s"`
}

type SessionConfig struct {
	Timeout         time.Duration `envconfig:"SESSION_TIMEOUT" default:"5m"`
	RetainArtifacts bool          `envconfig:"SESSION_RETAIN_ARTIFACTS" default:"false"`
}

type StorageConfig struct {
	DownloadRoot  string `envconfig:"DOWNLOAD_ROOT" default:"downloads"`
	RemoteEnabled bool   `envconfig:"STORAGE_REMOTE_ENABLED" default:"false"`
	KeepLocal     bool   `envconfig:"STORAGE_KEEP_LOCAL" default:"false"`
	// PresignTTL of zero means the session timeout.
	PresignTTL time.Duration `envconfig:"STORAGE_PRESIGN_TTL" default:"0s"`
}

type CacheConfig struct {
	Backend   string        `envconfig:"CACHE_BACKEND" default:"memory"`
	Capacity  int           `envconfig:"CACHE_CAPACITY" default:"256"`
	TTL       time.Duration `envconfig:"CACHE_TTL" default:"30m"`
	OpTimeout time.Duration `envconfig:"CACHE_OP_TIMEOUT" default:"250ms"`

	// Format listings are always held in process memory.
	FormatCapacity int           `envconfig:"FORMAT_CACHE_CAPACITY" default:"128"`
	FormatTTL      time.Duration `envconfig:"FORMAT_CACHE_TTL" default:"30m"`
}

type DownloaderConfig struct {
	BinaryPath    string        `envconfig:"YTDLP_PATH"`
	CookieFile    string        `envconfig:"YTDLP_COOKIE_FILE"`
	DefaultFormat string        `envconfig:"YTDLP_DEFAULT_FORMAT" default:"bestvideo[ext=mp4]+bestaudio[ext=m4a]/mp4"`
	MaxConcurrent int           `envconfig:"DOWNLOAD_MAX_CONCURRENT" default:"4"`
	Timeout       time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"4m"`
}

type EventsConfig struct {
	Enabled bool          `envconfig:"EVENTS_ENABLED" default:"false"`
	Timeout time.Duration `envconfig:"EVENTS_PUBLISH_TIMEOUT" default:"2s"`
}

type WorkerConfig struct {
	MaxRetries      int           `envconfig:"WORKER_MAX_RETRIES" default:"3"`
	Prefetch        int           `envconfig:"WORKER_PREFETCH" default:"10"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"mediadrop"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"mediadrop"`
	DBName   string `envconfig:"POSTGRES_DB" default:"mediadrop"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MinIOConfig struct {
	Endpoint       string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	PublicEndpoint string `envconfig:"MINIO_PUBLIC_ENDPOINT"`
	AccessKey      string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey      string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket         string `envconfig:"MINIO_BUCKET" default:"mediadrop"`
	Region         string `envconfig:"MINIO_REGION" default:"us-east-1"`
	UseSSL         bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	CreateBucket   bool   `envconfig:"MINIO_CREATE_BUCKET" default:"true"`
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"mediadrop"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"mediadrop"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
	Queue    string `envconfig:"RABBITMQ_QUEUE" default:"session_events"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("API_PORT out of range: %d", c.Server.Port))
	}
	if c.Session.Timeout <= 0 {
		errs = append(errs, errors.New("SESSION_TIMEOUT must be positive"))
	}
	if c.Storage.DownloadRoot == "" {
		errs = append(errs, errors.New("DOWNLOAD_ROOT is required"))
	}
	if c.Storage.PresignTTL < 0 {
		errs = append(errs, errors.New("STORAGE_PRESIGN_TTL must not be negative"))
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.Cache.Backend))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("CACHE_CAPACITY must be positive"))
	}
	if c.Cache.OpTimeout <= 0 {
		errs = append(errs, errors.New("CACHE_OP_TIMEOUT must be positive"))
	}
	if c.Cache.FormatCapacity <= 0 {
		errs = append(errs, errors.New("FORMAT_CACHE_CAPACITY must be positive"))
	}
	if c.Cache.FormatTTL <= 0 {
		errs = append(errs, errors.New("FORMAT_CACHE_TTL must be positive"))
	}
	if c.Downloader.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("DOWNLOAD_MAX_CONCURRENT must be positive"))
	}
	if c.Downloader.Timeout <= 0 {
		errs = append(errs, errors.New("DOWNLOAD_TIMEOUT must be positive"))
	}
	// A download that outlives its session is discarded at MarkReady.
	if c.Session.Timeout > 0 && c.Downloader.Timeout >= c.Session.Timeout {
		errs = append(errs, fmt.Errorf("DOWNLOAD_TIMEOUT (%s) must be shorter than SESSION_TIMEOUT (%s)",
			c.Downloader.Timeout, c.Session.Timeout))
	}
	if c.Worker.MaxRetries < 0 {
		errs = append(errs, errors.New("WORKER_MAX_RETRIES must not be negative"))
	}

	return errors.Join(errs...)
}

// PresignTTL returns the effective lifetime of presigned URLs.
func (c *Config) PresignTTL() time.Duration {
	if c.Storage.PresignTTL > 0 {
		return c.Storage.PresignTTL
	}
	return c.Session.Timeout
}
