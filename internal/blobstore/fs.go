package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// validID matches a store-generated blob ID (canonical UUID form).
var validID = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// FSStore implements BlobStore using the local filesystem.
// Blobs are stored in a two-level directory structure using the first two
// characters of the ID as a prefix directory, with a sidecar .meta file
// holding the declared content type.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed blob store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// fsSink writes to a hidden temp file and renames it into place on Close.
// An unfinalized or aborted write never produces a readable blob.
type fsSink struct {
	store       *FSStore
	id          string
	contentType string
	tmpPath     string
	file        *os.File
	closed      bool
	aborted     bool
}

// NewWriter opens a write sink for a new blob. The ID is assigned up front
// but the blob stays invisible until the sink is closed.
func (s *FSStore) NewWriter(_ context.Context, contentType string) (WriteSink, error) {
	id := uuid.New().String()

	dir := filepath.Dir(s.blobPath(id))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fsSink{
		store:       s,
		id:          id,
		contentType: contentType,
		tmpPath:     tmpFile.Name(),
		file:        tmpFile,
	}, nil
}

func (w *fsSink) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Close finalizes the blob: the temp file is flushed, the sidecar written,
// and the data renamed into place atomically. Returns an error after an
// Abort.
func (w *fsSink) Close() (string, error) {
	if w.aborted {
		return "", errors.New("blob write aborted")
	}
	if w.closed {
		return w.id, nil
	}

	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	metaPath := w.store.metaPath(w.id)
	if err := os.WriteFile(metaPath, []byte(w.contentType), 0644); err != nil {
		os.Remove(w.tmpPath)
		return "", fmt.Errorf("write blob meta: %w", err)
	}

	if err := os.Rename(w.tmpPath, w.store.blobPath(w.id)); err != nil {
		os.Remove(w.tmpPath)
		os.Remove(metaPath)
		return "", fmt.Errorf("rename blob: %w", err)
	}

	w.closed = true
	return w.id, nil
}

// Abort discards the temp file. No-op after a successful Close.
func (w *fsSink) Abort() {
	if w.closed || w.aborted {
		return
	}
	w.aborted = true
	w.file.Close()
	os.Remove(w.tmpPath)
	os.Remove(w.store.metaPath(w.id))
}

// Open returns a reader for the blob plus its content type and size.
// Returns ErrNotFound if the blob does not exist.
func (s *FSStore) Open(_ context.Context, id string) (io.ReadCloser, Info, error) {
	if !validID.MatchString(id) {
		return nil, Info{}, ErrNotFound
	}

	contentType, err := s.readMeta(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, fmt.Errorf("read blob meta %s: %w", id, err)
	}

	f, err := os.Open(s.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, fmt.Errorf("open blob %s: %w", id, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Info{}, fmt.Errorf("stat blob %s: %w", id, err)
	}

	return f, Info{ContentType: contentType, Size: fi.Size()}, nil
}

// Delete removes a blob and its sidecar. Returns ErrNotFound if the blob
// does not exist, so repeated deletes report cleanly.
func (s *FSStore) Delete(_ context.Context, id string) error {
	if !validID.MatchString(id) {
		return ErrNotFound
	}
	if _, err := os.Stat(s.blobPath(id)); os.IsNotExist(err) {
		return ErrNotFound
	}
	if err := os.Remove(s.blobPath(id)); err != nil {
		return fmt.Errorf("remove blob %s: %w", id, err)
	}
	os.Remove(s.metaPath(id))
	return nil
}

// List returns all blob IDs by scanning the directory tree.
func (s *FSStore) List(_ context.Context) ([]string, error) {
	var ids []string

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".meta") || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		// Reconstruct ID from path: root/ab/abcd-... -> abcd-...
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) == 2 && validID.MatchString(parts[1]) {
			ids = append(ids, parts[1])
		}
		return nil
	})

	return ids, err
}

// blobPath returns the filesystem path for a blob.
func (s *FSStore) blobPath(id string) string {
	if len(id) < 2 {
		return filepath.Join(s.root, id)
	}
	return filepath.Join(s.root, id[:2], id)
}

// metaPath returns the filesystem path for a blob's sidecar metadata.
func (s *FSStore) metaPath(id string) string {
	return s.blobPath(id) + ".meta"
}

// readMeta reads the declared content type from a sidecar file.
func (s *FSStore) readMeta(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
