package repository

import "errors"

var (
	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrObjectNotFound is returned when an object key does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrHistoryNotFound is returned when no history row exists for a session.
	ErrHistoryNotFound = errors.New("download history not found")
)
