// Package postgres provides a storage.Store backed by a PostgreSQL table.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/teemow/sitekit/internal/storage"
)

// DB is the subset of *pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const schema = `
CREATE TABLE IF NOT EXISTS sitekit_options (
	key   TEXT PRIMARY KEY,
	value BYTEA NOT NULL
)`

// Store implements storage.Store on the sitekit_options table.
type Store struct {
	db DB
}

// New creates a Store on db.
func New(db DB) *Store {
	return &Store{db: db}
}

var _ storage.Store = (*Store)(nil)

// EnsureSchema creates the options table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return storage.Unavailable("postgres create schema", err)
	}
	return nil
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM sitekit_options WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Unavailable("postgres get", err)
	}
	return value, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO sitekit_options (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	if _, err := s.db.Exec(ctx, query, key, value); err != nil {
		return storage.Unavailable("postgres set", err)
	}
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sitekit_options WHERE key = $1`, key); err != nil {
		return storage.Unavailable("postgres delete", err)
	}
	return nil
}

// CompareAndSwap implements storage.Store. Each case is a single statement,
// so the row-level lock taken by postgres provides the atomicity.
func (s *Store) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	var (
		tag pgconn.CommandTag
		err error
	)

	switch {
	case prev == nil && next == nil:
		var exists bool
		err = s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sitekit_options WHERE key = $1)`, key).Scan(&exists)
		if err != nil {
			return false, storage.Unavailable("postgres cas", err)
		}
		return !exists, nil
	case prev == nil:
		tag, err = s.db.Exec(ctx,
			`INSERT INTO sitekit_options (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			key, next)
	case next == nil:
		tag, err = s.db.Exec(ctx,
			`DELETE FROM sitekit_options WHERE key = $1 AND value = $2`,
			key, prev)
	default:
		tag, err = s.db.Exec(ctx,
			`UPDATE sitekit_options SET value = $3 WHERE key = $1 AND value = $2`,
			key, prev, next)
	}
	if err != nil {
		return false, storage.Unavailable("postgres cas", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping implements storage.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return storage.Unavailable("postgres ping", err)
	}
	return nil
}
