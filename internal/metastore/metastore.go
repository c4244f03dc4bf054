// Package metastore provides durable storage for image metadata records.
// Two backends implement the same contract: an embedded bbolt database
// (the default) and SQLite, selected by the configured metadata URL.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/kilupskalvis/picstash/internal/models"
)

// ErrNotFound is returned when a record lookup misses.
var ErrNotFound = errors.New("record not found")

// MetaStore is the contract for image record storage. All operations are
// single-record; the store's own transactionality is the only
// synchronization callers may rely on.
type MetaStore interface {
	// Create persists a new record, assigning its ID and insertion
	// sequence. UploadedAt is stamped if the caller left it zero.
	Create(ctx context.Context, rec *models.ImageRecord) (string, error)

	// Get retrieves a record by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*models.ImageRecord, error)

	// List returns all records ordered by upload timestamp descending,
	// ties broken by insertion order (newest insert first).
	List(ctx context.Context) ([]*models.ImageRecord, error)

	// UpdateCaption replaces the caption, leaving every other field
	// untouched, and returns the updated record.
	UpdateCaption(ctx context.Context, id, caption string) (*models.ImageRecord, error)

	// Delete removes a record. Returns ErrNotFound if missing.
	Delete(ctx context.Context, id string) error

	// BlobIDs returns the set of blob IDs referenced by any record.
	// Used by the reconciliation sweep to find orphaned blobs.
	BlobIDs(ctx context.Context) (map[string]bool, error)

	// Close releases the underlying database.
	Close() error
}

// Open creates a metadata store from a URL of the form bolt:///path/to/db
// or sqlite:///path/to/db.
func Open(metaURL string) (MetaStore, error) {
	u, err := url.Parse(metaURL)
	if err != nil {
		return nil, fmt.Errorf("parse metadata url: %w", err)
	}

	path := u.Path
	if u.Host != "" {
		// Tolerate bolt://relative/path without the third slash.
		path = u.Host + path
	}
	if path == "" {
		return nil, fmt.Errorf("metadata url %q has no path", metaURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "bolt", "bbolt":
		return NewBboltStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported metadata backend %q", u.Scheme)
	}
}
