package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kilupskalvis/picstash/internal/blobstore"
	"github.com/kilupskalvis/picstash/internal/metastore"
	"github.com/kilupskalvis/picstash/internal/models"
)

// stubAnalyzer implements vision.Analyzer with canned answers.
type stubAnalyzer struct {
	labels  []models.Label
	caption string
}

func (a *stubAnalyzer) DetectLabels(_ context.Context, _ []byte, _ string) []models.Label {
	return a.labels
}

func (a *stubAnalyzer) GenerateCaption(_ context.Context, _ []byte, _ string) string {
	return a.caption
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, analyzer *stubAnalyzer) (*Coordinator, *blobstore.FSStore, metastore.MetaStore) {
	t.Helper()

	blobs, err := blobstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	meta, err := metastore.NewBboltStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	if analyzer == nil {
		analyzer = &stubAnalyzer{}
	}
	return New(blobs, meta, analyzer, 0, testLogger()), blobs, meta
}

func imageUpload(data []byte) Upload {
	return Upload{
		Filename:    "photo.jpg",
		ContentType: "image/jpeg",
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	}
}

func TestIngest_BlobMatchesUploadedBytes(t *testing.T) {
	ctx := context.Background()
	analyzer := &stubAnalyzer{
		labels:  []models.Label{{Description: "dog", Score: 0.95}, {Description: "park", Score: 0.8}},
		caption: "a dog in a park",
	}
	c, blobs, _ := newTestCoordinator(t, analyzer)

	data := []byte("jpeg payload bytes")
	rec, err := c.Ingest(ctx, imageUpload(data))
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "photo.jpg", rec.Filename)
	assert.Equal(t, "a dog in a park", rec.Caption)
	assert.Equal(t, []string{"dog", "park"}, rec.Tags)
	assert.False(t, rec.UploadedAt.IsZero())

	reader, info, err := blobs.Open(ctx, rec.BlobID)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "image/jpeg", info.ContentType)
}

func TestIngest_RejectsNonImage(t *testing.T) {
	ctx := context.Background()
	c, blobs, meta := newTestCoordinator(t, nil)

	_, err := c.Ingest(ctx, Upload{
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Size:        4,
		Body:        strings.NewReader("text"),
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	// Neither a blob nor a record was created.
	ids, err := blobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	records, err := meta.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngest_RejectsOversizeBeforeWrite(t *testing.T) {
	ctx := context.Background()
	c, blobs, _ := newTestCoordinator(t, nil)

	_, err := c.Ingest(ctx, Upload{
		Filename:    "huge.png",
		ContentType: "image/png",
		Size:        DefaultMaxUploadBytes + 1,
		Body:        strings.NewReader("x"),
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	ids, err := blobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "no orphan blob may exist after a size rejection")
}

func TestIngest_RejectsUndeclaredOversizeStream(t *testing.T) {
	ctx := context.Background()

	blobs, err := blobstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	meta, err := metastore.NewBboltStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer meta.Close()

	// Tiny cap so the stream overruns it despite a modest declared size.
	c := New(blobs, meta, &stubAnalyzer{}, 8, testLogger())

	_, err = c.Ingest(ctx, Upload{
		Filename:    "sneaky.png",
		ContentType: "image/png",
		Size:        -1,
		Body:        strings.NewReader("way more than eight bytes"),
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	ids, err := blobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIngest_BodyErrorLeavesNoBlob(t *testing.T) {
	ctx := context.Background()
	c, blobs, meta := newTestCoordinator(t, nil)

	body := io.MultiReader(strings.NewReader("partial"), &failingReader{})
	_, err := c.Ingest(ctx, Upload{
		Filename:    "cut.jpg",
		ContentType: "image/jpeg",
		Size:        -1,
		Body:        body,
	})

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageWrite, se.Stage)

	ids, err := blobs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "an interrupted stream must not finalize a blob")

	records, err := meta.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

type failingReader struct{}

func (*failingReader) Read([]byte) (int, error) {
	return 0, errors.New("client went away")
}

func TestIngest_DegradedAnalysisStillCommits(t *testing.T) {
	ctx := context.Background()
	// Empty results are what the gateway returns for unparseable or
	// failed analysis; the upload must still commit.
	c, _, _ := newTestCoordinator(t, &stubAnalyzer{})

	rec, err := c.Ingest(ctx, imageUpload([]byte("img")))
	require.NoError(t, err)
	assert.Empty(t, rec.Caption)
	assert.Empty(t, rec.Tags)
	assert.Empty(t, rec.Labels)

	got, err := c.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestOpenBlob(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t, nil)

	data := []byte("stream me")
	rec, err := c.Ingest(ctx, imageUpload(data))
	require.NoError(t, err)

	reader, got, err := c.OpenBlob(ctx, rec.ID)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, rec.ID, got.ID)
	b, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, b)

	_, _, err = c.OpenBlob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCaption(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t, &stubAnalyzer{
		labels: []models.Label{{Description: "cat", Score: 0.9}},
	})

	rec, err := c.Ingest(ctx, imageUpload([]byte("img")))
	require.NoError(t, err)

	updated, err := c.UpdateCaption(ctx, rec.ID, "better caption")
	require.NoError(t, err)
	assert.Equal(t, "better caption", updated.Caption)
	assert.Equal(t, rec.BlobID, updated.BlobID)
	assert.Equal(t, rec.Tags, updated.Tags)

	_, err = c.UpdateCaption(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_RemovesBlobAndRecord(t *testing.T) {
	ctx := context.Background()
	c, blobs, _ := newTestCoordinator(t, nil)

	rec, err := c.Ingest(ctx, imageUpload([]byte("img")))
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, rec.ID))

	_, err = c.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = blobs.Open(ctx, rec.BlobID)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	assert.ErrorIs(t, c.Delete(ctx, rec.ID), ErrNotFound)
}

func TestList_NewestFirstAcrossUploads(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t, nil)

	first, err := c.Ingest(ctx, imageUpload([]byte("one")))
	require.NoError(t, err)
	second, err := c.Ingest(ctx, imageUpload([]byte("two")))
	require.NoError(t, err)

	records, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
}

func TestList_ConcurrentUploadsOrderedByTimestamp(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t, nil)

	// Release all uploads at once; completion order is up to the
	// scheduler, the list order must not be.
	start := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			<-start
			_, err := c.Ingest(ctx, imageUpload([]byte("concurrent payload")))
			return err
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	records, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 8)

	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		if prev.UploadedAt.Equal(cur.UploadedAt) {
			assert.Greater(t, prev.Seq, cur.Seq,
				"equal timestamps must fall back to insertion order, newest first")
			continue
		}
		assert.True(t, prev.UploadedAt.After(cur.UploadedAt),
			"list must be ordered by upload timestamp descending")
	}
}

// failingMeta wraps a real store and injects an error on Get.
type failingMeta struct {
	metastore.MetaStore
	getErr error
}

func (m *failingMeta) Get(_ context.Context, _ string) (*models.ImageRecord, error) {
	return nil, m.getErr
}

func TestGet_StoreFailureTaggedAsRead(t *testing.T) {
	ctx := context.Background()

	blobs, err := blobstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	meta, err := metastore.NewBboltStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer meta.Close()

	broken := &failingMeta{MetaStore: meta, getErr: errors.New("db handle poisoned")}
	c := New(blobs, broken, &stubAnalyzer{}, 0, testLogger())

	_, err = c.Get(ctx, "any")
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageRead, se.Stage)
	assert.NotErrorIs(t, err, ErrNotFound)
}
