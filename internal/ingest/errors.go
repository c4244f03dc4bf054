package ingest

import (
	"errors"
	"fmt"
)

// ErrInvalidInput rejects an upload before any storage I/O happens:
// missing file, non-image content type, or oversize payload.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound is returned when a record or blob lookup misses. Store
// sentinels are mapped onto it so callers match one error.
var ErrNotFound = errors.New("not found")

// Stages a storage failure can be attributed to: the upload pipeline's
// receive/write/commit steps, plus read for the lookup paths.
const (
	StageReceive = "receive"
	StageWrite   = "write"
	StageCommit  = "commit"
	StageRead    = "read"
)

// StorageError is a blob or metadata store failure, tagged with the
// pipeline stage it occurred in.
type StorageError struct {
	Stage string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Stage, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
