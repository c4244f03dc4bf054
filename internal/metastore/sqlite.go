package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/ksuid"
	_ "modernc.org/sqlite"

	"github.com/kilupskalvis/picstash/internal/models"
)

// SQLiteStore implements MetaStore using SQLite. Labels and tags are
// stored as JSON columns; insertion order comes from the rowid sequence.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS images (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	blob_id      TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	caption      TEXT NOT NULL DEFAULT '',
	tags         TEXT NOT NULL DEFAULT '[]',
	labels       TEXT NOT NULL DEFAULT '[]',
	uploaded_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_images_uploaded_at ON images(uploaded_at DESC, seq DESC);
`

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create meta directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open meta database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create stores a new record, assigning ID and timestamp.
func (s *SQLiteStore) Create(ctx context.Context, rec *models.ImageRecord) (string, error) {
	rec.ID = ksuid.New().String()
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now().UTC()
	}

	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return "", fmt.Errorf("marshal labels: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO images (id, blob_id, filename, content_type, caption, tags, labels, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BlobID, rec.Filename, rec.ContentType, rec.Caption,
		string(tags), string(labels), rec.UploadedAt)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}

	if seq, err := res.LastInsertId(); err == nil {
		rec.Seq = uint64(seq)
	}
	return rec.ID, nil
}

// Get retrieves a record by ID. Returns ErrNotFound if missing.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.ImageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, id, blob_id, filename, content_type, caption, tags, labels, uploaded_at
		 FROM images WHERE id = ?`, id)
	return scanRecord(row)
}

// List returns all records, newest upload first; equal timestamps fall
// back to insertion order, newest insert first.
func (s *SQLiteStore) List(ctx context.Context) ([]*models.ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, blob_id, filename, content_type, caption, tags, labels, uploaded_at
		 FROM images ORDER BY uploaded_at DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*models.ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateCaption replaces the caption and returns the updated record.
// Returns ErrNotFound if missing.
func (s *SQLiteStore) UpdateCaption(ctx context.Context, id, caption string) (*models.ImageRecord, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE images SET caption = ? WHERE id = ?`, caption, id)
	if err != nil {
		return nil, fmt.Errorf("update caption: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a record. Returns ErrNotFound if missing.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// BlobIDs returns every blob ID referenced by a record.
func (s *SQLiteStore) BlobIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT blob_id FROM images`)
	if err != nil {
		return nil, fmt.Errorf("query blob ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan blob id: %w", err)
		}
		if id != "" {
			ids[id] = true
		}
	}
	return ids, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*models.ImageRecord, error) {
	var rec models.ImageRecord
	var tags, labels string

	err := row.Scan(&rec.Seq, &rec.ID, &rec.BlobID, &rec.Filename, &rec.ContentType,
		&rec.Caption, &tags, &labels, &rec.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &rec.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	return &rec, nil
}
