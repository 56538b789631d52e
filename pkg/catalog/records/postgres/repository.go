// Package postgres provides a RecordStore that keeps catalog resources as
// JSONB documents in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-catalog/pkg/catalog"
)

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements catalog.RecordStore using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL record store
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL record store with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var _ catalog.RecordStore = (*Repository)(nil)

// EnsureSchema creates the record table and its indexes when missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return r.handlePostgresError("ensure schema", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("duplicate record in %s: %w", operation, err)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required: %w", err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s): %w", operation, pgErr.Message, pgErr.Code, err)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ErrNotFound
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

	query := `
		INSERT INTO catalog_record (id, collection, doc, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.Exec(ctx, query,
		stored.ID, collection, data, stored.Version, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return uuid.Nil, r.handlePostgresError("create record", err)
	}
	return stored.ID, nil
}

func (r *Repository) FindByID(ctx context.Context, collection string, id uuid.UUID) (*catalog.Resource, error) {
	query := `
		SELECT id, doc, version FROM catalog_record
		WHERE collection = $1 AND id = $2`

	res, err := scanRecord(r.db.QueryRow(ctx, query, collection, id))
	if err != nil {
		return nil, r.handlePostgresError("find record", err)
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

	query := `
		UPDATE catalog_record
		SET doc = $3, version = version + 1, updated_at = $4
		WHERE collection = $1 AND id = $2 AND version = $5
		RETURNING id, doc, version`

	res, err := scanRecord(r.db.QueryRow(ctx, query, collection, id, data, stored.UpdatedAt, doc.Version))
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, r.handlePostgresError("update record", err)
	}

	// Nothing matched: the record is gone or its version moved on
	var exists bool
	err = r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM catalog_record WHERE collection = $1 AND id = $2)`,
		collection, id).Scan(&exists)
	if err != nil {
		return nil, r.handlePostgresError("update record", err)
	}
	if !exists {
		return nil, catalog.ErrNotFound
	}
	return nil, catalog.ErrVersionConflict
}

func (r *Repository) DeleteByID(ctx context.Context, collection string, id uuid.UUID) (*catalog.Resource, error) {
	query := `
		DELETE FROM catalog_record
		WHERE collection = $1 AND id = $2
		RETURNING id, doc, version`

	res, err := scanRecord(r.db.QueryRow(ctx, query, collection, id))
	if err != nil {
		return nil, r.handlePostgresError("delete record", err)
	}
	return res, nil
}

func (r *Repository) FindByField(ctx context.Context, collection, field, value string) ([]*catalog.Resource, error) {
	query := `
		SELECT id, doc, version FROM catalog_record
		WHERE collection = $1 AND doc -> 'attributes' ->> $2 = $3
		ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query, collection, field, value)
	if err != nil {
		return nil, r.handlePostgresError("find records by field", err)
	}
	return collectRecords(rows)
}

func (r *Repository) List(ctx context.Context, collection string) ([]*catalog.Resource, error) {
	query := `
		SELECT id, doc, version FROM catalog_record
		WHERE collection = $1
		ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query, collection)
	if err != nil {
		return nil, r.handlePostgresError("list records", err)
	}
	return collectRecords(rows)
}

func scanRecord(row pgx.Row) (*catalog.Resource, error) {
	var (
		id      uuid.UUID
		data    []byte
		version int64
	)
	if err := row.Scan(&id, &data, &version); err != nil {
		return nil, err
	}

	var res catalog.Resource
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	res.ID = id
	res.Version = version
	return &res, nil
}

func collectRecords(rows pgx.Rows) ([]*catalog.Resource, error) {
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
