package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// pq error code for insufficient_privilege.
const pqInsufficientPrivilege pq.ErrorCode = "42501"

// PostgresStore persists records as JSONB rows keyed by path.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore constructs a store backed by sqlx.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Read returns the record stored at path.
func (s *PostgresStore) Read(ctx context.Context, path string) (Record, error) {
	const query = `SELECT data FROM records WHERE path = $1`

	var data []byte
	if err := s.db.GetContext(ctx, &data, query, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyPostgres("read", path, err)
	}
	return Record(data), nil
}

// Write upserts the record stored at path.
func (s *PostgresStore) Write(ctx context.Context, path string, record Record) error {
	const query = `
		INSERT INTO records (path, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, path, string(record)); err != nil {
		return classifyPostgres("write", path, err)
	}
	return nil
}

// Create inserts the record unless a row already exists at path.
func (s *PostgresStore) Create(ctx context.Context, path string, record Record) error {
	const query = `
		INSERT INTO records (path, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (path) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query, path, string(record))
	if err != nil {
		return classifyPostgres("create", path, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classifyPostgres("create", path, err)
	}
	if affected == 0 {
		return ErrExists
	}
	return nil
}

// Delete removes the record stored at path.
func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	const query = `DELETE FROM records WHERE path = $1`

	if _, err := s.db.ExecContext(ctx, query, path); err != nil {
		return classifyPostgres("delete", path, err)
	}
	return nil
}

func classifyPostgres(op, path string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqInsufficientPrivilege {
		return permissionDenied(op, path, err)
	}
	return unreachable(op, path, err)
}
