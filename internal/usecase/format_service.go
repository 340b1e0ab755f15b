package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/downloader"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediadrop/internal/lru"
)

// FormatServiceConfig holds configuration for FormatService.
type FormatServiceConfig struct {
	// Capacity is the number of listings kept in memory.
	Capacity int
	// TTL is how long a listing is reused.
	TTL time.Duration
	// Timeout bounds one engine run.
	Timeout time.Duration
}

// DefaultFormatServiceConfig returns the default configuration.
func DefaultFormatServiceConfig() FormatServiceConfig {
	return FormatServiceConfig{
		Capacity: 128,
		TTL:      30 * time.Minute,
		Timeout:  time.Minute,
	}
}

// FormatsOutput is the format listing returned to clients.
type FormatsOutput struct {
	SourceURL string
	Listing   *downloader.FormatListing
	Cached    bool
}

// FormatService lists the formats a source can be downloaded in.
type FormatService interface {
	ListFormats(ctx context.Context, rawURL string) (*FormatsOutput, error)
}

type formatService struct {
	lister  downloader.FormatLister
	cache   *lru.Cache[string, *downloader.FormatListing]
	sfGroup singleflight.Group
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewFormatService creates a FormatService backed by an in-memory TTL-LRU.
func NewFormatService(lister downloader.FormatLister, cfg FormatServiceConfig, logger *slog.Logger) (FormatService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &formatService{
		lister:  lister,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	c, err := lru.New[string, *downloader.FormatListing](cfg.Capacity, lru.WithEvictFunc(s.onEvict))
	if err != nil {
		return nil, fmt.Errorf("create format cache: %w", err)
	}
	s.cache = c
	return s, nil
}

func (s *formatService) onEvict(url string, _ *downloader.FormatListing, reason lru.EvictReason) {
	metrics.CacheEvictionsTotal.WithLabelValues(reason.String()).Inc()
	s.logger.Debug("format listing evicted",
		slog.String("url", url),
		slog.String("reason", reason.String()),
	)
}

// ListFormats returns the listing for the canonical form of rawURL. Concurrent
// lookups of one URL share a single engine run.
func (s *formatService) ListFormats(ctx context.Context, rawURL string) (*FormatsOutput, error) {
	normalized, err := model.NormalizeSourceURL(rawURL)
	if err != nil {
		return nil, err
	}

	if listing, ok := s.cache.Get(normalized); ok {
		metrics.CacheOperationsTotal.WithLabelValues(
			metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeFormats,
		).Inc()
		return &FormatsOutput{SourceURL: normalized, Listing: listing, Cached: true}, nil
	}
	metrics.CacheOperationsTotal.WithLabelValues(
		metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeFormats,
	).Inc()

	runCtx := context.WithoutCancel(ctx)
	result, err, _ := s.sfGroup.Do(normalized, func() (any, error) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
			defer cancel()
		}
		listing, err := s.lister.ListFormats(runCtx, normalized)
		if err != nil {
			return nil, err
		}
		s.cache.Put(normalized, listing, s.ttl)
		s.logger.Debug("format listing cached",
			slog.String("url", normalized),
			slog.Int("formats", len(listing.Formats)),
		)
		return listing, nil
	})
	if err != nil {
		s.logger.Warn("format listing failed",
			slog.String("url", normalized),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return &FormatsOutput{SourceURL: normalized, Listing: result.(*downloader.FormatListing)}, nil
}
