// Package ingest implements the image ingestion pipeline: blob write,
// external analysis, metadata commit, and the read/delete paths that keep
// the two stores consistent.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/picstash/internal/blobstore"
	"github.com/kilupskalvis/picstash/internal/metastore"
	"github.com/kilupskalvis/picstash/internal/models"
	"github.com/kilupskalvis/picstash/internal/vision"
)

// DefaultMaxUploadBytes caps upload payloads at 10 MiB.
const DefaultMaxUploadBytes = 10 * 1024 * 1024

// Upload is one inbound image payload.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64 // declared size; -1 if unknown
	Body        io.Reader
}

// Coordinator orchestrates the upload pipeline and owns the consistency
// contract between the blob store and the metadata store. It is
// constructed once at startup with long-lived store handles and is safe
// for concurrent use; each request is an independent unit of work.
type Coordinator struct {
	blobs    blobstore.BlobStore
	meta     metastore.MetaStore
	analyzer vision.Analyzer
	maxBytes int64
	logger   *slog.Logger
}

// New creates a Coordinator. A non-positive maxUploadBytes falls back to
// the default 10 MiB cap.
func New(blobs blobstore.BlobStore, meta metastore.MetaStore, analyzer vision.Analyzer, maxUploadBytes int64, logger *slog.Logger) *Coordinator {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		blobs:    blobs,
		meta:     meta,
		analyzer: analyzer,
		maxBytes: maxUploadBytes,
		logger:   logger,
	}
}

// Ingest runs one upload through the pipeline: validate, write blob,
// analyze, commit record. Analysis failures never fail the upload; they
// degrade to an empty caption and label set. A metadata commit failure
// leaves the already-written blob orphaned for the sweep to reclaim.
func (c *Coordinator) Ingest(ctx context.Context, up Upload) (*models.ImageRecord, error) {
	if err := validate(up, c.maxBytes); err != nil {
		return nil, err
	}

	blobID, data, err := c.writeBlob(ctx, up)
	if err != nil {
		return nil, err
	}

	// The two analysis calls are independent reads of the same bytes;
	// run them concurrently and wait for both.
	var (
		labels  []models.Label
		caption string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		labels = c.analyzer.DetectLabels(gctx, data, up.ContentType)
		return nil
	})
	g.Go(func() error {
		caption = c.analyzer.GenerateCaption(gctx, data, up.ContentType)
		return nil
	})
	g.Wait()

	rec := &models.ImageRecord{
		BlobID:      blobID,
		Filename:    up.Filename,
		ContentType: up.ContentType,
		Caption:     caption,
		Tags:        models.TagsFromLabels(labels),
		Labels:      labels,
	}

	if _, err := c.meta.Create(ctx, rec); err != nil {
		// The blob is now unreferenced. No compensating delete here;
		// the reconciliation sweep reclaims it.
		c.logger.Error("metadata commit failed, blob orphaned", "blob_id", blobID, "error", err)
		return nil, &StorageError{Stage: StageCommit, Err: err}
	}

	c.logger.Info("image ingested",
		"record_id", rec.ID,
		"blob_id", blobID,
		"size", len(data),
		"labels", len(labels),
	)
	return rec, nil
}

// validate enforces the pre-I/O input contract.
func validate(up Upload, maxBytes int64) error {
	if up.Body == nil {
		return fmt.Errorf("%w: no image payload", ErrInvalidInput)
	}
	if !strings.HasPrefix(up.ContentType, "image/") {
		return fmt.Errorf("%w: content type %q is not an image", ErrInvalidInput, up.ContentType)
	}
	if up.Size > maxBytes {
		return fmt.Errorf("%w: payload of %d bytes exceeds limit of %d", ErrInvalidInput, up.Size, maxBytes)
	}
	return nil
}

// writeBlob streams the payload into the blob store and returns the
// finalized blob ID plus the buffered bytes for analysis. Any failure
// aborts the sink so no partial blob becomes readable.
func (c *Coordinator) writeBlob(ctx context.Context, up Upload) (string, []byte, error) {
	sink, err := c.blobs.NewWriter(ctx, up.ContentType)
	if err != nil {
		return "", nil, &StorageError{Stage: StageWrite, Err: err}
	}

	// Analysis needs the full payload, so tee the stream into memory
	// while writing. The limit guards against a declared size that lied:
	// one byte past the cap means the upload is rejected, not truncated.
	var buf bytes.Buffer
	limited := io.LimitReader(up.Body, c.maxBytes+1)
	n, err := io.Copy(io.MultiWriter(sink, &buf), limited)
	if err != nil {
		sink.Abort()
		return "", nil, &StorageError{Stage: StageWrite, Err: fmt.Errorf("stream payload: %w", err)}
	}
	if n > c.maxBytes {
		sink.Abort()
		return "", nil, fmt.Errorf("%w: payload exceeds limit of %d bytes", ErrInvalidInput, c.maxBytes)
	}

	blobID, err := sink.Close()
	if err != nil {
		sink.Abort()
		return "", nil, &StorageError{Stage: StageWrite, Err: err}
	}
	return blobID, buf.Bytes(), nil
}

// Get returns a record by ID.
func (c *Coordinator) Get(ctx context.Context, id string) (*models.ImageRecord, error) {
	rec, err := c.meta.Get(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, StageRead)
	}
	return rec, nil
}

// List returns all records, newest first.
func (c *Coordinator) List(ctx context.Context) ([]*models.ImageRecord, error) {
	return c.meta.List(ctx)
}

// OpenBlob resolves a record and opens its blob for streaming.
func (c *Coordinator) OpenBlob(ctx context.Context, id string) (io.ReadCloser, *models.ImageRecord, error) {
	rec, err := c.meta.Get(ctx, id)
	if err != nil {
		return nil, nil, mapNotFound(err, StageRead)
	}
	reader, _, err := c.blobs.Open(ctx, rec.BlobID)
	if err != nil {
		return nil, nil, mapNotFound(err, StageRead)
	}
	return reader, rec, nil
}

// UpdateCaption replaces a record's caption.
func (c *Coordinator) UpdateCaption(ctx context.Context, id, caption string) (*models.ImageRecord, error) {
	rec, err := c.meta.UpdateCaption(ctx, id, caption)
	if err != nil {
		return nil, mapNotFound(err, StageCommit)
	}
	return rec, nil
}

// Delete removes an image: blob first, then the metadata record. A blob
// already gone is tolerated so a half-completed earlier delete can be
// retried to completion.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	rec, err := c.meta.Get(ctx, id)
	if err != nil {
		return mapNotFound(err, StageRead)
	}

	if err := c.blobs.Delete(ctx, rec.BlobID); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return &StorageError{Stage: StageCommit, Err: fmt.Errorf("delete blob %s: %w", rec.BlobID, err)}
	}

	if err := c.meta.Delete(ctx, id); err != nil {
		return mapNotFound(err, StageCommit)
	}
	return nil
}

// mapNotFound folds the store-specific sentinels into the coordinator's
// own, wrapping everything else as a storage failure in the given stage.
func mapNotFound(err error, stage string) error {
	if errors.Is(err, metastore.ErrNotFound) || errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &StorageError{Stage: stage, Err: err}
}
