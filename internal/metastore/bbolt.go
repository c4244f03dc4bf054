package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/segmentio/ksuid"
	bolt "go.etcd.io/bbolt"

	"github.com/kilupskalvis/picstash/internal/models"
)

var bucketRecords = []byte("records")

// BboltStore implements MetaStore using bbolt. Records are stored as JSON
// keyed by ID; the insertion sequence comes from the bucket's counter.
type BboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens or creates a bbolt database at the given path.
func NewBboltStore(dbPath string) (*BboltStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records bucket: %w", err)
	}

	return &BboltStore{db: db}, nil
}

// Close releases the bbolt database.
func (s *BboltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create stores a new record, assigning ID, timestamp, and sequence.
func (s *BboltStore) Create(_ context.Context, rec *models.ImageRecord) (string, error) {
	rec.ID = ksuid.New().String()
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now().UTC()
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		rec.Seq = seq

		data, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Get retrieves a record by ID. Returns ErrNotFound if missing.
func (s *BboltStore) Get(_ context.Context, id string) (*models.ImageRecord, error) {
	var rec *models.ImageRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		rec = &models.ImageRecord{}
		return unmarshalRecord(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all records, newest upload first; equal timestamps fall
// back to insertion order, newest insert first.
func (s *BboltStore) List(_ context.Context) ([]*models.ImageRecord, error) {
	var records []*models.ImageRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			rec := &models.ImageRecord{}
			if err := unmarshalRecord(v, rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].UploadedAt.Equal(records[j].UploadedAt) {
			return records[i].UploadedAt.After(records[j].UploadedAt)
		}
		return records[i].Seq > records[j].Seq
	})

	return records, nil
}

// UpdateCaption replaces the caption inside a single transaction and
// returns the updated record. Returns ErrNotFound if missing.
func (s *BboltStore) UpdateCaption(_ context.Context, id, caption string) (*models.ImageRecord, error) {
	var rec *models.ImageRecord

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		rec = &models.ImageRecord{}
		if err := unmarshalRecord(data, rec); err != nil {
			return err
		}
		rec.Caption = caption

		updated, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a record. Returns ErrNotFound if missing.
func (s *BboltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// BlobIDs returns every blob ID referenced by a record.
func (s *BboltStore) BlobIDs(_ context.Context) (map[string]bool, error) {
	ids := make(map[string]bool)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var rec models.ImageRecord
			if err := unmarshalRecord(v, &rec); err != nil {
				return nil // skip malformed entries
			}
			if rec.BlobID != "" {
				ids[rec.BlobID] = true
			}
			return nil
		})
	})

	return ids, err
}

// boltRecord mirrors ImageRecord with Seq included, since Seq is
// json-omitted on the API type but must survive storage round-trips.
type boltRecord struct {
	models.ImageRecord
	Seq uint64 `json:"seq"`
}

func marshalRecord(rec *models.ImageRecord) ([]byte, error) {
	data, err := json.Marshal(&boltRecord{ImageRecord: *rec, Seq: rec.Seq})
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func unmarshalRecord(data []byte, rec *models.ImageRecord) error {
	var br boltRecord
	if err := json.Unmarshal(data, &br); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	*rec = br.ImageRecord
	rec.Seq = br.Seq
	return nil
}
