package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/picstash/internal/models"
)

// Both backends must satisfy the same contract, so every test runs
// against each of them.
func withStores(t *testing.T, fn func(t *testing.T, s MetaStore)) {
	t.Helper()

	backends := map[string]func(t *testing.T) MetaStore{
		"bbolt": func(t *testing.T) MetaStore {
			s, err := NewBboltStore(filepath.Join(t.TempDir(), "meta.db"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) MetaStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func sampleRecord(blobID string) *models.ImageRecord {
	return &models.ImageRecord{
		BlobID:      blobID,
		Filename:    "cat.jpg",
		ContentType: "image/jpeg",
		Caption:     "a cat",
		Tags:        []string{"cat", "pet"},
		Labels: []models.Label{
			{Description: "cat", Score: 0.98},
			{Description: "pet", Score: 0.91},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	withStores(t, func(t *testing.T, s MetaStore) {
		ctx := context.Background()

		rec := sampleRecord("blob-1")
		id, err := s.Create(ctx, rec)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.False(t, rec.UploadedAt.IsZero())

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "blob-1", got.BlobID)
		assert.Equal(t, "cat.jpg", got.Filename)
		assert.Equal(t, "image/jpeg", got.ContentType)
		assert.Equal(t, "a cat", got.Caption)
		assert.Equal(t, []string{"cat", "pet"}, got.Tags)
		require.Len(t, got.Labels, 2)
		assert.Equal(t, 0.98, got.Labels[0].Score)
	})
}

func TestGet_NotFound(t *testing.T) {
	withStores(t, func(t *testing.T, s MetaStore) {
		_, err := s.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestList_OrderedNewestFirst(t *testing.T) {
	withStores(t, func(t *testing.T, s MetaStore) {
		ctx := context.Background()
		base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

		old := sampleRecord("blob-old")
		old.UploadedAt = base.Add(-time.Hour)
		oldID, err := s.Create(ctx, old)
		require.NoError(t, err)

		newer := sampleRecord("blob-new")
		newer.UploadedAt = base
		newID, err := s.Create(ctx, newer)
		require.NoError(t, err)

		records, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, newID, records[0].ID)
		assert.Equal(t, oldID, records[1].ID)
	})
}

func TestList_TimestampTieBrokenByInsertionOrder(t *testing.T) {
	withStores(t, func(t *testing.T, s MetaStore) {
		ctx := context.Background()
		at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

		var ids []string
		for i := 0; i < 3; i++ {
			rec := sampleRecord("blob")
			rec.UploadedAt = at
			id, err := s.Create(ctx, rec)
			require.NoError(t, err)
			ids = append(ids, id)
		}

		records, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 3)
		// Latest insert first.
		assert.Equal(t, ids[2], records[0].ID)
		assert.Equal(t, ids[1], records[1].ID)
		assert.Equal(t, ids[0], records[2].ID)
	})
}

func TestUpdateCaption_TouchesOnlyCaption(t *testing.T) {
	withStores(t, func(t *testing.T, s MetaStore) {
		ctx := context.Background()

		id, err := s.Create(ctx, sampleRecord("blob-1"))
		require.NoError(t, err)
		before, err := s.Get(ctx, id)
		require.NoError(t, err)

		updated, err := s.UpdateCaption(ctx, id, "a very fine cat")
		require.NoError(t, err)
		assert.Equal(t, "a very fine cat", updated.Caption)

		assert.Equal(t, before.BlobID, updated.BlobID)
		assert.Equal(t, before.Tags, updated.Tags)
		assert.Equal(t, before.Labels, updated.Labels)
		assert.True(t, before.UploadedAt.Equal(updated.UploadedAt))

		// Idempotent for the same value.
		again, err := s.UpdateCaption(ctx, id, "a very fine cat")
		require.NoError(t, err)
		assert.Equal(t, updated.Caption, again.Caption)
	})
}

func TestUpdateCaption_NotFound(t *testing.T) {
	withStores(t, func(t *testing.T, s MetaStore) {
		_, err := s.UpdateCaption(context.Background(), "missing", "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	withStores(t, func(t *testing.T, s MetaStore) {
		ctx := context.Background()

		id, err := s.Create(ctx, sampleRecord("blob-1"))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))

		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
	})
}

func TestBlobIDs(t *testing.T) {
	withStores(t, func(t *testing.T, s MetaStore) {
		ctx := context.Background()

		_, err := s.Create(ctx, sampleRecord("blob-a"))
		require.NoError(t, err)
		_, err = s.Create(ctx, sampleRecord("blob-b"))
		require.NoError(t, err)

		ids, err := s.BlobIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"blob-a": true, "blob-b": true}, ids)
	})
}

func TestOpen_SchemeDispatch(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("bolt://" + filepath.Join(dir, "meta-bolt.db"))
	require.NoError(t, err)
	_, ok := s.(*BboltStore)
	assert.True(t, ok)
	s.Close()

	s, err = Open("sqlite://" + filepath.Join(dir, "meta-sqlite.db"))
	require.NoError(t, err)
	_, ok = s.(*SQLiteStore)
	assert.True(t, ok)
	s.Close()

	_, err = Open("mongodb://localhost/imageDB")
	assert.Error(t, err)
}
