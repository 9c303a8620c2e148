// Package blobstore abstracts the object storage that holds a Zarr
// hierarchy: whole-object reads and writes keyed by slash-separated
// names. Backends exist for memory (tests), the local filesystem, MinIO
// and AWS S3.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations must return an error satisfying
// errors.Is(err, ErrNotFound) for missing objects, since a missing Zarr
// chunk is a regular condition (fill value), not a failure.
var ErrNotFound = errors.New("blobstore: object not found")

// Store is a flat object store. Zarr chunks and metadata documents are
// small whole objects, so the interface is Get/Put rather than streamed.
type Store interface {
	// Get reads an entire object. Returns ErrNotFound if absent.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put writes an entire object atomically, replacing any previous
	// version.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes an object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all objects with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
