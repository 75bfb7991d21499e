package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/nutrirag/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		item_type TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		vector BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_items_item_type ON items(item_type);

	CREATE TABLE IF NOT EXISTS sources (
		path TEXT PRIMARY KEY,
		mod_time INTEGER NOT NULL,
		size INTEGER NOT NULL,
		item_ids TEXT NOT NULL,
		ingested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertItems inserts or replaces items in one transaction. A replaced item keeps its
// original position in ForEachItem order.
func (s *SQLiteStorage) UpsertItems(ctx context.Context, items []*models.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (id, content, item_type, metadata, vector, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   content = excluded.content,
		   item_type = excluded.item_type,
		   metadata = excluded.metadata,
		   vector = excluded.vector`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, item := range items {
		metadataJSON, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", item.ID, err)
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			item.ID, item.Content, item.ItemType, string(metadataJSON), vectorToBlob(item.Vector), item.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

// GetItem returns an item by ID, including its vector.
func (s *SQLiteStorage) GetItem(ctx context.Context, id string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, item_type, metadata, vector, created_at
		 FROM items WHERE id = ?`, id,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return item, err
}

// DeleteItems removes items by ID and returns how many existed.
func (s *SQLiteStorage) DeleteItems(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListItems returns items ordered by insertion with offset and limit. Vectors are omitted.
func (s *SQLiteStorage) ListItems(ctx context.Context, offset, limit int) ([]*models.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, item_type, metadata, NULL, created_at
		 FROM items ORDER BY seq LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ForEachItem streams every item with its vector.
func (s *SQLiteStorage) ForEachItem(ctx context.Context, fn func(*models.Item) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, item_type, metadata, vector, created_at FROM items ORDER BY seq`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountItems returns the total number of items.
func (s *SQLiteStorage) CountItems(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count)
	return count, err
}

// PutSource inserts or replaces the record for src.Path.
func (s *SQLiteStorage) PutSource(ctx context.Context, src *models.Source) error {
	ids, err := json.Marshal(src.ItemIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal item ids: %w", err)
	}
	if src.IngestedAt.IsZero() {
		src.IngestedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sources (path, mod_time, size, item_ids, ingested_at)
		 VALUES (?, ?, ?, ?, ?)`,
		src.Path, src.ModTime, src.Size, string(ids), src.IngestedAt,
	)
	return err
}

// GetSource returns the record for path.
func (s *SQLiteStorage) GetSource(ctx context.Context, path string) (*models.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT path, mod_time, size, item_ids, ingested_at FROM sources WHERE path = ?`, path,
	)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", path, ErrNotFound)
	}
	return src, err
}

// DeleteSource removes the record for path. Items are not touched.
func (s *SQLiteStorage) DeleteSource(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, path)
	return err
}

// ListSources returns every source ordered by path.
func (s *SQLiteStorage) ListSources(ctx context.Context) ([]*models.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, mod_time, size, item_ids, ingested_at FROM sources ORDER BY path`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*models.Item, error) {
	var item models.Item
	var metadataJSON sql.NullString
	var blob []byte
	if err := row.Scan(&item.ID, &item.Content, &item.ItemType, &metadataJSON, &blob, &item.CreatedAt); err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &item.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", item.ID, err)
		}
	}
	if item.Metadata == nil {
		item.Metadata = models.Metadata{}
	}
	item.Vector = blobToVector(blob)
	return &item, nil
}

func scanSource(row scanner) (*models.Source, error) {
	var src models.Source
	var ids string
	if err := row.Scan(&src.Path, &src.ModTime, &src.Size, &ids, &src.IngestedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &src.ItemIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item ids for %s: %w", src.Path, err)
	}
	return &src, nil
}

func vectorToBlob(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func blobToVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
