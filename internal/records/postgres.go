// Package records persists labeled records.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// DefaultTable is the table labeled records are written to
const DefaultTable = "image_labels"

var tableRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrDuplicateRecord is returned when a record id was already written
var ErrDuplicateRecord = errors.New("record already exists")

// DB is the subset of pgxpool.Pool used by PostgresStore
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore writes labeled records to PostgreSQL, one row per record
type PostgresStore struct {
	db    DB
	table string
}

// NewPostgresStore creates a store writing to table; empty means DefaultTable
func NewPostgresStore(db DB, table string) (*PostgresStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{db: db, table: table}, nil
}

// Open connects a pgx pool and verifies it with a ping
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the records table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			record_id UUID PRIMARY KEY,
			source_location TEXT NOT NULL,
			object_key TEXT NOT NULL,
			source_url TEXT NOT NULL,
			labels JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`, s.table)
	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}
	return nil
}

// PutRecord inserts rec. Records are never updated.
func (s *PostgresStore) PutRecord(ctx context.Context, rec pipeline.LabeledRecord) error {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (record_id, source_location, object_key, source_url, labels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (record_id) DO NOTHING
	`, s.table)

	tag, err := s.db.Exec(ctx, query,
		rec.RecordID.String(),
		rec.Source.Location,
		rec.Source.Key,
		rec.Source.URL(),
		string(labels),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.RecordID)
	}
	return nil
}
