// Package tier decides where a finished artifact lives and how it is handed
// back to a client: a file under the local download root, or an object in
// the remote store reached through a presigned URL.
package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/domain/repository"
	"github.com/hszk-dev/mediadrop/internal/infrastructure/metrics"
)

const remoteKeyPrefix = "downloads"

// Config holds storage tier settings.
type Config struct {
	Root       string        // local download root
	KeepLocal  bool          // keep the local copy after a successful upload
	PresignTTL time.Duration // lifetime of presigned URLs
}

// Tier persists and resolves artifacts. A nil remote store disables the
// remote tier entirely.
type Tier struct {
	root       string
	remote     repository.ObjectStorage
	keepLocal  bool
	presignTTL time.Duration
	logger     *slog.Logger
}

// New creates the download root if needed and returns a Tier over it.
func New(cfg Config, remote repository.ObjectStorage, logger *slog.Logger) (*Tier, error) {
	if cfg.Root == "" {
		return nil, errors.New("download root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve download root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}
	// Resolve symlinks once so containment checks compare like with like.
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve download root: %w", err)
	}

	return &Tier{
		root:       root,
		remote:     remote,
		keepLocal:  cfg.KeepLocal,
		presignTTL: cfg.PresignTTL,
		logger:     logger,
	}, nil
}

// Root returns the absolute download root.
func (t *Tier) Root() string {
	return t.root
}

// RemoteEnabled reports whether uploads are attempted.
func (t *Tier) RemoteEnabled() bool {
	return t.remote != nil
}

// SessionDir creates and returns the working directory of one session.
func (t *Tier) SessionDir(id uuid.UUID) (string, error) {
	dir := filepath.Join(t.root, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// RemoteKey returns the object key used for an uploaded artifact.
func RemoteKey(id uuid.UUID, filename string) string {
	return path.Join(remoteKeyPrefix, id.String(), filepath.Base(filename))
}

// Persist moves a finished artifact to its final tier. With the remote tier
// enabled the file is uploaded and, unless KeepLocal is set, the session
// directory removed. A failed upload leaves the artifact on local disk, so
// Persist never fails.
func (t *Tier) Persist(ctx context.Context, localPath string, id uuid.UUID) model.StorageLocation {
	local := model.LocalLocation(localPath)
	if t.remote == nil {
		return local
	}

	key := RemoteKey(id, localPath)
	if err := t.upload(ctx, localPath, key); err != nil {
		metrics.StorageOperationsTotal.WithLabelValues(
			metrics.StorageOpUpload, string(model.StorageRemote), metrics.StorageStatusError,
		).Inc()
		t.logger.Warn("remote upload failed, keeping artifact on local disk",
			slog.String("session_id", id.String()),
			slog.String("key", key),
			slog.String("error", fmt.Errorf("%w: %w", model.ErrStorageUploadFailed, err).Error()),
		)
		return local
	}

	metrics.StorageOperationsTotal.WithLabelValues(
		metrics.StorageOpUpload, string(model.StorageRemote), metrics.StorageStatusSuccess,
	).Inc()
	t.logger.Info("artifact uploaded",
		slog.String("session_id", id.String()),
		slog.String("key", key),
	)

	if !t.keepLocal {
		t.deleteLocal(localPath)
	}
	return model.RemoteLocation(key)
}

func (t *Tier) upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}

	return t.remote.Upload(ctx, key, f, info.Size(), ContentType(localPath))
}

// Resolve turns a storage location into something a client can fetch.
func (t *Tier) Resolve(ctx context.Context, loc model.StorageLocation, filename string) (*model.ServableRef, error) {
	if filename == "" {
		filename = loc.Base()
	}

	switch loc.Kind {
	case model.StorageLocal:
		p, err := t.containedPath(loc.Path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return nil, model.ErrSessionNotFound
		}
		return &model.ServableRef{
			Kind:     model.StorageLocal,
			Path:     p,
			Filename: filename,
		}, nil

	case model.StorageRemote:
		if t.remote == nil {
			return nil, model.ErrSessionNotFound
		}
		u, err := t.remote.GeneratePresignedDownloadURL(ctx, loc.Key, filename, t.presignTTL)
		if err != nil {
			metrics.StorageOperationsTotal.WithLabelValues(
				metrics.StorageOpPresign, string(model.StorageRemote), metrics.StorageStatusError,
			).Inc()
			return nil, fmt.Errorf("presign %s: %w", loc.Key, err)
		}
		metrics.StorageOperationsTotal.WithLabelValues(
			metrics.StorageOpPresign, string(model.StorageRemote), metrics.StorageStatusSuccess,
		).Inc()
		return &model.ServableRef{
			Kind:      model.StorageRemote,
			URL:       u,
			Filename:  filename,
			ExpiresAt: time.Now().Add(t.presignTTL),
		}, nil

	default:
		return nil, model.ErrSessionNotFound
	}
}

// containedPath cleans p, resolves symlinks and checks the result lies
// strictly inside the download root.
func (t *Tier) containedPath(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", model.ErrPathEscape
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Nothing to follow. Containment is still checked on the
			// cleaned path so a traversal never reads as "not found".
			if !t.within(abs) {
				return "", model.ErrPathEscape
			}
			return "", model.ErrSessionNotFound
		}
		return "", model.ErrPathEscape
	}

	if !t.within(resolved) {
		return "", model.ErrPathEscape
	}
	return resolved, nil
}

func (t *Tier) within(p string) bool {
	rel, err := filepath.Rel(t.root, p)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// Delete removes an artifact. It is idempotent and never fails: errors are
// logged and counted.
func (t *Tier) Delete(ctx context.Context, loc model.StorageLocation) {
	switch loc.Kind {
	case model.StorageLocal:
		t.deleteLocal(loc.Path)
	case model.StorageRemote:
		if t.remote == nil {
			return
		}
		if err := t.remote.Delete(ctx, loc.Key); err != nil {
			metrics.StorageOperationsTotal.WithLabelValues(
				metrics.StorageOpDelete, string(model.StorageRemote), metrics.StorageStatusError,
			).Inc()
			t.logger.Warn("failed to delete remote artifact",
				slog.String("key", loc.Key),
				slog.String("error", err.Error()),
			)
			return
		}
		metrics.StorageOperationsTotal.WithLabelValues(
			metrics.StorageOpDelete, string(model.StorageRemote), metrics.StorageStatusSuccess,
		).Inc()
	}
}

// DeleteSessionDir removes the working directory of a session.
func (t *Tier) DeleteSessionDir(id uuid.UUID) {
	t.removeDir(filepath.Join(t.root, id.String()))
}

// deleteLocal removes the session directory holding localPath. Files that
// sit directly in the root are removed on their own.
func (t *Tier) deleteLocal(localPath string) {
	abs, err := filepath.Abs(filepath.Clean(localPath))
	if err != nil || !t.within(abs) {
		t.logger.Warn("refusing to delete path outside download root", slog.String("path", localPath))
		return
	}

	rel, _ := filepath.Rel(t.root, abs)
	first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	target := filepath.Join(t.root, first)
	if first == rel {
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.localDeleteFailed(target, err)
			return
		}
		t.localDeleted()
		return
	}
	t.removeDir(target)
}

func (t *Tier) removeDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		t.localDeleteFailed(dir, err)
		return
	}
	t.localDeleted()
}

func (t *Tier) localDeleted() {
	metrics.StorageOperationsTotal.WithLabelValues(
		metrics.StorageOpDelete, string(model.StorageLocal), metrics.StorageStatusSuccess,
	).Inc()
}

func (t *Tier) localDeleteFailed(p string, err error) {
	metrics.StorageOperationsTotal.WithLabelValues(
		metrics.StorageOpDelete, string(model.StorageLocal), metrics.StorageStatusError,
	).Inc()
	t.logger.Warn("failed to delete local artifact",
		slog.String("path", p),
		slog.String("error", err.Error()),
	)
}

// mediaTypes covers the container formats the downloader produces; the
// system MIME table is often missing them.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".flv":  "video/x-flv",
	".3gp":  "video/3gpp",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".ts":   "video/mp2t",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".aac":  "audio/aac",
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
