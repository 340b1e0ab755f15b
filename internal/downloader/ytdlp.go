package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"

	"github.com/hszk-dev/mediadrop/internal/domain/model"
)

// outputTemplate names files after the media title.
const outputTemplate = "%(title)s.%(ext)s"

// preferredExtensions lists artifact extensions in priority order. Sidecar
// files (subtitles, thumbnails, partial downloads) never match.
var preferredExtensions = []string{
	"mp4", "mkv", "webm", "flv", "3gp", "mov", "avi", "ts",
	"m4a", "mp3", "ogg", "opus", "flac", "wav", "aac", "alac", "aiff", "dsf", "pcm",
}

// YtDlpConfig holds configuration for the yt-dlp downloader.
type YtDlpConfig struct {
	// BinaryPath is the path to the yt-dlp executable.
	// If empty, yt-dlp is resolved from PATH.
	BinaryPath string

	// CookieFile is an optional Netscape cookie file for authenticated sources.
	CookieFile string
}

// YtDlp implements Downloader using the yt-dlp CLI.
type YtDlp struct {
	config YtDlpConfig
	logger *slog.Logger
	// run executes the engine; replaced in tests.
	run func(ctx context.Context, cmd *ytdlp.Command, url string) (*ytdlp.Result, error)
}

// Compile-time verification that YtDlp implements Downloader.
var _ Downloader = (*YtDlp)(nil)

// NewYtDlp creates a new yt-dlp based downloader.
func NewYtDlp(cfg YtDlpConfig, logger *slog.Logger) *YtDlp {
	if logger == nil {
		logger = slog.Default()
	}
	return &YtDlp{
		config: cfg,
		logger: logger,
		run: func(ctx context.Context, cmd *ytdlp.Command, url string) (*ytdlp.Result, error) {
			return cmd.Run(ctx, url)
		},
	}
}

// Download runs yt-dlp into req.OutputDir and returns the produced artifact.
func (d *YtDlp) Download(ctx context.Context, req Request) (*Result, error) {
	if err := validateOutputDir(req.OutputDir); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrDownloadFailed, err)
	}

	cmd := d.buildCommand(req)

	res, err := d.run(ctx, cmd, req.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: cancelled: %w", model.ErrDownloadFailed, ctx.Err())
		}
		return nil, fmt.Errorf("%w: yt-dlp: %s", model.ErrDownloadFailed, engineMessage(res, err))
	}

	path, err := FindArtifact(req.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrDownloadFailed, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat artifact: %w", model.ErrDownloadFailed, err)
	}

	d.logger.Debug("download finished",
		slog.String("url", req.URL),
		slog.String("path", path),
		slog.Int64("size", info.Size()),
	)

	return &Result{
		Path:     path,
		Filename: filepath.Base(path),
		Size:     info.Size(),
	}, nil
}

// buildCommand configures yt-dlp for a single-item download.
func (d *YtDlp) buildCommand(req Request) *ytdlp.Command {
	format := strings.TrimSpace(req.Format)
	if format == "" {
		format = DefaultFormat
	}

	cmd := ytdlp.New().
		Format(format).
		Output(filepath.Join(req.OutputDir, outputTemplate)).
		NoPlaylist().
		RestrictFilenames().
		ForceOverwrites().
		NoProgress()

	if d.config.BinaryPath != "" {
		cmd.SetExecutable(d.config.BinaryPath)
	}
	if d.config.CookieFile != "" {
		cmd.Cookies(d.config.CookieFile)
	}
	if lang := strings.TrimSpace(req.SubtitleLang); lang != "" {
		cmd.WriteSubs().SubLangs(lang).EmbedSubs()
	}
	return cmd
}

// FindArtifact returns the first regular file in dir whose extension is
// preferred, honoring the priority order of preferredExtensions.
func FindArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read output directory: %w", err)
	}

	byExt := make(map[string]string)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(entry.Name()), "."))
		if _, seen := byExt[ext]; !seen {
			byExt[ext] = entry.Name()
		}
	}

	for _, ext := range preferredExtensions {
		if name, ok := byExt[ext]; ok {
			return filepath.Join(dir, name), nil
		}
	}
	return "", errors.New("no media file produced")
}

// validateOutputDir checks if the output directory exists.
func validateOutputDir(outputDir string) error {
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", outputDir)
		}
		return fmt.Errorf("failed to access output directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", outputDir)
	}

	return nil
}

// engineMessage picks the most useful line of engine output for the error.
func engineMessage(res *ytdlp.Result, err error) string {
	if res != nil {
		lines := strings.Split(strings.TrimSpace(res.Stderr), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if line := strings.TrimSpace(lines[i]); strings.HasPrefix(line, "ERROR:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
			}
		}
	}
	return err.Error()
}
