// Package blobstore abstracts the object storage used for off-box segment
// backups.
//
// Two implementations ship with clipvault: an in-memory store for tests and a
// MinIO-backed store for any S3-compatible service.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("object not found")

// ObjectStore is an abstraction for writing and reading backup objects.
type ObjectStore interface {
	// Put writes an object. size may be -1 when unknown; implementations
	// then stream until EOF.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Open opens an object for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns all object names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
}
