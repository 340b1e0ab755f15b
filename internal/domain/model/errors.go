package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentifier is returned when a session identifier is not a
	// canonical UUIDv4 string. It is checked before any lookup.
	ErrInvalidIdentifier = errors.New("invalid session identifier")

	// ErrSessionNotFound is returned for unknown or purged sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotReady is returned when a session exists but its artifact has not
	// been persisted yet.
	ErrNotReady = errors.New("artifact not yet available")

	// ErrDownloadFailed wraps failures reported by the download engine.
	ErrDownloadFailed = errors.New("download failed")

	// ErrStorageUploadFailed marks a failed remote upload. It never reaches
	// callers: the artifact stays on local disk instead.
	ErrStorageUploadFailed = errors.New("storage upload failed")

	// ErrCacheUnavailable marks a distributed cache call that could not be
	// served. It is degraded to a miss.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrPathEscape is returned when a resolved local path is outside the
	// download root.
	ErrPathEscape = errors.New("path escapes download root")

	// ErrNoFormats is returned when the engine lists no usable formats.
	ErrNoFormats = errors.New("no formats available")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSourceURL  = errors.New("invalid source URL")
	ErrInvalidTimeout    = errors.New("session timeout must be positive")
	ErrNilSessionID      = errors.New("session ID cannot be nil")

	// ErrPlaylistNotSupported rejects URLs that name a playlist but no
	// single item.
	ErrPlaylistNotSupported = fmt.Errorf("%w: playlists are not supported", ErrInvalidSourceURL)
)
