// Package sqlite provides a RecordStore that keeps catalog resources as JSON
// documents in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tendant/simple-catalog/pkg/catalog"
)

const schema = `
CREATE TABLE IF NOT EXISTS catalog_record (
    id          TEXT PRIMARY KEY,
    collection  TEXT NOT NULL,
    doc         TEXT NOT NULL,
    version     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_catalog_record_collection_created
    ON catalog_record (collection, created_at DESC);
`

// Repository implements catalog.RecordStore using SQLite
type Repository struct {
	db *sql.DB
}

// Open opens the database at path, configures it and creates the schema
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := New(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// New wraps an open database handle
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ catalog.RecordStore = (*Repository)(nil)

// EnsureSchema creates the record table when missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database
func (r *Repository) Close() error {
	return r.db.Close()
}

func handleSQLiteError(operation string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.ErrNotFound
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("duplicate record in %s: %w", operation, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("database busy in %s: %w", operation, err)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) Create(ctx context.Context, collection string, doc *catalog.Resource) (uuid.UUID, error) {
	stored := doc.Clone()
	stored.ID = uuid.New()
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
		stored.UpdatedAt = stored.CreatedAt
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO catalog_record (id, collection, doc, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		stored.ID.String(), collection, string(data), stored.Version,
		stored.CreatedAt.UnixNano(), stored.UpdatedAt.UnixNano())
	if err != nil {
		return uuid.Nil, handleSQLiteError("create record", err)
	}
	return stored.ID, nil
}

func (r *Repository) FindByID(ctx context.Context, collection string, id uuid.UUID) (*catalog.Resource, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, doc, version FROM catalog_record WHERE collection = ? AND id = ?`,
		collection, id.String())

	res, err := scanRecord(row)
	if err != nil {
		return nil, handleSQLiteError("find record", err)
	}
	return res, nil
}

// UpdateByID replaces the document only while its stored version matches
func (r *Repository) UpdateByID(ctx context.Context, collection string, id uuid.UUID, doc *catalog.Resource) (*catalog.Resource, error) {
	stored := doc.Clone()
	stored.ID = id
	stored.Version = doc.Version + 1
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE catalog_record SET doc = ?, version = version + 1, updated_at = ?
		 WHERE collection = ? AND id = ? AND version = ?`,
		string(data), stored.UpdatedAt.UnixNano(), collection, id.String(), doc.Version)
	if err != nil {
		return nil, handleSQLiteError("update record", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, handleSQLiteError("update record", err)
	}
	if affected == 1 {
		return stored, nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM catalog_record WHERE collection = ? AND id = ?)`,
		collection, id.String()).Scan(&exists)
	if err != nil {
		return nil, handleSQLiteError("update record", err)
	}
	if !exists {
		return nil, catalog.ErrNotFound
	}
	return nil, catalog.ErrVersionConflict
}

func (r *Repository) DeleteByID(ctx context.Context, collection string, id uuid.UUID) (*catalog.Resource, error) {
	row := r.db.QueryRowContext(ctx,
		`DELETE FROM catalog_record WHERE collection = ? AND id = ? RETURNING id, doc, version`,
		collection, id.String())

	res, err := scanRecord(row)
	if err != nil {
		return nil, handleSQLiteError("delete record", err)
	}
	return res, nil
}

func (r *Repository) FindByField(ctx context.Context, collection, field, value string) ([]*catalog.Resource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, doc, version FROM catalog_record
		 WHERE collection = ? AND json_extract(doc, ?) = ?
		 ORDER BY created_at DESC, rowid DESC`,
		collection, "$.attributes."+strconv.Quote(field), value)
	if err != nil {
		return nil, handleSQLiteError("find records by field", err)
	}
	return collectRecords(rows)
}

func (r *Repository) List(ctx context.Context, collection string) ([]*catalog.Resource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, doc, version FROM catalog_record
		 WHERE collection = ?
		 ORDER BY created_at DESC, rowid DESC`,
		collection)
	if err != nil {
		return nil, handleSQLiteError("list records", err)
	}
	return collectRecords(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*catalog.Resource, error) {
	var (
		rawID   string
		data    string
		version int64
	)
	if err := row.Scan(&rawID, &data, &version); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid record id %q: %w", rawID, err)
	}

	var res catalog.Resource
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	res.ID = id
	res.Version = version
	return &res, nil
}

func collectRecords(rows *sql.Rows) ([]*catalog.Resource, error) {
	defer rows.Close()

	var result []*catalog.Resource
	for rows.Next() {
		res, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return result, nil
}
