package ingest

import (
	"context"
	"fmt"
)

// SweepResult contains the outcome of an orphan reconciliation run.
type SweepResult struct {
	BlobsScanned    int `json:"blobs_scanned"`
	BlobsDeleted    int `json:"blobs_deleted"`
	ReferencedBlobs int `json:"referenced_blobs"`
}

// Sweep removes blobs not referenced by any metadata record. Orphans
// appear when a metadata commit fails after a successful blob write;
// uploads never clean up after themselves, this sweep does.
func (c *Coordinator) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	referenced, err := c.meta.BlobIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("get referenced blob ids: %w", err)
	}
	result.ReferencedBlobs = len(referenced)

	allIDs, err := c.blobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blob ids: %w", err)
	}
	result.BlobsScanned = len(allIDs)

	for _, id := range allIDs {
		if referenced[id] {
			continue
		}
		if err := c.blobs.Delete(ctx, id); err != nil {
			c.logger.Warn("sweep: failed to delete blob", "blob_id", id, "error", err)
			continue
		}
		result.BlobsDeleted++
	}

	c.logger.Info("sweep complete",
		"scanned", result.BlobsScanned,
		"referenced", result.ReferencedBlobs,
		"deleted", result.BlobsDeleted,
	)

	return result, nil
}
