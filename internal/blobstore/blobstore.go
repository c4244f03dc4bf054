// Package blobstore provides opaque-keyed binary storage for uploaded
// image payloads. Writes are invisible until finalized: a blob only
// becomes readable after its sink is closed successfully.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a requested blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Info describes a stored blob.
type Info struct {
	ContentType string
	Size        int64
}

// WriteSink is a scoped write target for a single blob. Exactly one of
// Close or Abort must be called. Close finalizes the blob and returns
// its store-generated ID; until then (and forever after Abort) the blob
// is not readable.
type WriteSink interface {
	io.Writer

	// Close finalizes the write and returns the blob ID. Returns an
	// error after an Abort; never reports success for a discarded blob.
	Close() (string, error)

	// Abort discards everything written so far. Safe to call after a
	// failed Close, where it must not block; a no-op once the blob is
	// finalized.
	Abort()
}

// BlobStore is the contract for image payload storage.
type BlobStore interface {
	// NewWriter opens a write sink for a new blob with the declared
	// content type. The blob ID is assigned by the store and reported
	// by the sink's Close.
	NewWriter(ctx context.Context, contentType string) (WriteSink, error)

	// Open returns a streamed reader for the blob plus its stored
	// attributes. Returns ErrNotFound if the ID is unknown.
	Open(ctx context.Context, id string) (io.ReadCloser, Info, error)

	// Delete removes a blob. Returns ErrNotFound if the ID is unknown,
	// so a double delete reports cleanly instead of succeeding silently.
	Delete(ctx context.Context, id string) error

	// List returns the IDs of all stored blobs. Used by the
	// reconciliation sweep to find orphans.
	List(ctx context.Context) ([]string, error)
}
