// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mediadrop"

var (
	// CacheOperationsTotal tracks cache operations (get, set, delete).
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error, unavailable
	//   - cache_type: memory, redis, formats
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// CacheEvictionsTotal tracks entries dropped by the in-memory cache.
	// Labels:
	//   - reason: capacity, expired
	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of in-memory cache evictions",
		},
		[]string{"reason"},
	)

	// DBQueriesTotal tracks database queries.
	// Labels:
	//   - query_type: select, insert, update
	//   - table: download_history
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently held by the registry",
		},
	)

	// SessionTransitionsTotal counts lifecycle transitions by target status.
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of session status transitions",
		},
		[]string{"status"},
	)

	// StorageOperationsTotal tracks artifact storage operations.
	// Labels:
	//   - operation: upload, presign, delete
	//   - tier: local, remote
	//   - status: success, error
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of storage tier operations",
		},
		[]string{"operation", "tier", "status"},
	)

	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Time spent running the download engine",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal tracks served requests by route pattern.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// EventsPublishedTotal tracks lifecycle events sent to the queue.
	// Labels:
	//   - type: session.ready, session.failed, session.expired
	//   - status: success, error, dropped
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of session events published",
		},
		[]string{"type", "status"},
	)
)

// Cache operation status constants.
const (
	CacheStatusHit         = "hit"
	CacheStatusMiss        = "miss"
	CacheStatusSuccess     = "success"
	CacheStatusError       = "error"
	CacheStatusUnavailable = "unavailable"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache type constants.
const (
	CacheTypeMemory  = "memory"
	CacheTypeRedis   = "redis"
	CacheTypeFormats = "formats"
)

// Storage operation constants.
const (
	StorageOpUpload  = "upload"
	StorageOpPresign = "presign"
	StorageOpDelete  = "delete"

	StorageStatusSuccess = "success"
	StorageStatusError   = "error"
)

// DB query type constants.
const (
	DBQuerySelect = "select"
	DBQueryInsert = "insert"
	DBQueryUpdate = "update"
)

// Table name constants.
const (
	TableDownloadHistory = "download_history"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// Download result constants.
const (
	DownloadSuccess = "success"
	DownloadFailure = "failure"
)

// Event publish status constants.
const (
	EventStatusSuccess = "success"
	EventStatusError   = "error"
	EventStatusDropped = "dropped"
)
