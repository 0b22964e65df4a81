// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Values live in a single kv_records table keyed by (namespace, key), which
// mirrors the bucket/key space of the BBolt and in-memory backends.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/honeycomb/storage"
)

const upsertSQL = `INSERT INTO kv_records (namespace, key, value, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (namespace, key)
	DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

const deleteSQL = `DELETE FROM kv_records WHERE namespace = $1 AND key = $2`

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the kv_records table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Put(namespace, key string, value []byte) error {
	_, err := s.pool.Exec(context.Background(), upsertSQL, namespace, key, value)
	return err
}

func (s *Store) Get(namespace, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(context.Background(),
		`SELECT value FROM kv_records WHERE namespace = $1 AND key = $2`,
		namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Delete(namespace, key string) error {
	_, err := s.pool.Exec(context.Background(), deleteSQL, namespace, key)
	return err
}

func (s *Store) List(namespace string) ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT key FROM kv_records WHERE namespace = $1 ORDER BY key`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	pgTx, err := s.pool.Begin(context.Background())
	if err != nil {
		return err
	}
	defer pgTx.Rollback(context.Background()) //nolint:errcheck

	if err := fn(&pgBatchTx{tx: pgTx, namespace: namespace}); err != nil {
		return err
	}
	return pgTx.Commit(context.Background())
}

type pgBatchTx struct {
	tx        pgx.Tx
	namespace string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Put(key string, value []byte) error {
	_, err := btx.tx.Exec(context.Background(), upsertSQL, btx.namespace, key, value)
	return err
}

func (btx *pgBatchTx) Delete(key string) error {
	_, err := btx.tx.Exec(context.Background(), deleteSQL, btx.namespace, key)
	return err
}
