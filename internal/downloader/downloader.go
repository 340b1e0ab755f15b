// Package downloader fetches remote media into a local directory through an
// external extraction engine.
package downloader

import (
	"context"
)

// DefaultFormat prefers an mp4 container with separate best video and audio
// streams, falling back to the best single mp4.
const DefaultFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/mp4"

// Request describes one download.
type Request struct {
	// URL is the source page or media URL.
	URL string
	// Format is an engine format selector. Empty means DefaultFormat.
	Format string
	// SubtitleLang, when set, writes and embeds subtitles in that language.
	SubtitleLang string
	// OutputDir is an existing directory owned by the session.
	OutputDir string
}

// Result describes the produced artifact.
type Result struct {
	// Path is the absolute path of the artifact inside OutputDir.
	Path string
	// Filename is the base name of Path.
	Filename string
	// Size is the artifact size in bytes.
	Size int64
}

// Downloader defines the interface for media download operations.
// Failures are reported wrapped in model.ErrDownloadFailed.
type Downloader interface {
	Download(ctx context.Context, req Request) (*Result, error)
}
