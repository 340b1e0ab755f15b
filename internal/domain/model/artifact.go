package model

import (
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// StorageKind tags where an artifact's bytes currently live.
type StorageKind string

const (
	StorageLocal  StorageKind = "local"
	StorageRemote StorageKind = "remote"
)

// StorageLocation is a tagged union: Path is set for StorageLocal, Key for
// StorageRemote. The zero value means "nothing persisted".
type StorageLocation struct {
	Kind StorageKind
	Path string
	Key  string
}

// LocalLocation returns a location for a file under the download root.
func LocalLocation(p string) StorageLocation {
	return StorageLocation{Kind: StorageLocal, Path: p}
}

// RemoteLocation returns a location for an object in the remote store.
func RemoteLocation(key string) StorageLocation {
	return StorageLocation{Kind: StorageRemote, Key: key}
}

func (l StorageLocation) IsZero() bool {
	return l.Kind == ""
}

// Base returns the file name component of the location.
func (l StorageLocation) Base() string {
	switch l.Kind {
	case StorageLocal:
		return filepath.Base(l.Path)
	case StorageRemote:
		return path.Base(l.Key)
	default:
		return ""
	}
}

// CachedArtifact is the memoized result of resolving a source URL and format.
type CachedArtifact struct {
	SessionID uuid.UUID
	Filename  string
	Location  StorageLocation
	CachedAt  time.Time
}

// ServableRef is what the file-serving path hands to the client: either a
// local file path or a presigned URL.
type ServableRef struct {
	Kind      StorageKind
	Path      string
	URL       string
	Filename  string
	ExpiresAt time.Time
}
