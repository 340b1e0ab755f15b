package repository

import (
	"context"
	"io"
	"time"
)

// ObjectStorage defines the interface for the remote artifact store.
// Implementations should be provided by the infrastructure layer (e.g., MinIO, S3).
type ObjectStorage interface {
	// Upload stores an object. size may be -1 when unknown.
	// key is the object path within the bucket (e.g., "downloads/{session_id}/clip.mp4").
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// GeneratePresignedDownloadURL creates a presigned GET URL valid for expiry.
	// When filename is not empty the response carries an attachment
	// Content-Disposition with that name.
	GeneratePresignedDownloadURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists in the storage.
	Exists(ctx context.Context, key string) (bool, error)
}
