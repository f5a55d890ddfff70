// Package postgres implements storage.Backend backed by PostgreSQL.
//
// Each row holds one encoded record line under its index key. The expiry is
// duplicated in plaintext in expires_at so expired rows can be deleted
// without decrypting them. Every write also drops rows that no longer
// decode, in the same transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ironsession/key"
	"github.com/jmcleod/ironsession/storage"
)

// Store implements storage.Backend backed by PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	codec   *storage.LineCodec
	indexer storage.Indexer
	now     func() time.Time
}

var _ storage.Backend = (*Store)(nil)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns a Store backed by the given pgx connection pool.
func NewStore(pool *pgxpool.Pool, codec *storage.LineCodec, indexer storage.Indexer, opts ...Option) *Store {
	s := &Store{
		pool:    pool,
		codec:   codec,
		indexer: indexer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Store.
func NewStoreFromDSN(ctx context.Context, dsn string, codec *storage.LineCodec, indexer storage.Indexer, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool, codec, indexer, opts...), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	k, err := s.indexer.Index(id)
	if err != nil {
		return nil, err
	}
	var line string
	err = s.pool.QueryRow(ctx,
		`SELECT line FROM ironsession_sessions WHERE index_key = $1 AND expires_at > $2`,
		k, s.now().Unix()).Scan(&line)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.codec.Resolve(line, id, s.now())
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Put(ctx context.Context, rec *storage.Record) error {
	line, err := s.codec.EncodeLine(rec)
	if err != nil {
		return err
	}
	k, err := s.indexer.Index(rec.ID)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.sweepTx(ctx, tx, s.now()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO ironsession_sessions (index_key, line, expires_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (index_key)
			 DO UPDATE SET line = $2, expires_at = $3`,
			k, line, rec.ExpiresAt)
		return err
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	k, err := s.indexer.Index(id)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ironsession_sessions WHERE index_key = $1`, k); err != nil {
			return err
		}
		_, err := s.sweepTx(ctx, tx, s.now())
		return err
	})
}

// Sweep deletes expired rows and rows that no longer decrypt.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	var removed int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		n, err := s.sweepTx(ctx, tx, s.now())
		removed = n
		return err
	})
	return removed, err
}

// sweepTx runs inside every write: expired rows go by the plaintext
// expires_at column, then the remaining lines are decoded and the ones
// that fail are deleted.
func (s *Store) sweepTx(ctx context.Context, tx pgx.Tx, now time.Time) (int, error) {
	removed, err := deleteExpired(ctx, tx, now)
	if err != nil {
		return 0, err
	}

	rows, err := tx.Query(ctx, `SELECT index_key, line FROM ironsession_sessions`)
	if err != nil {
		return removed, err
	}
	var stale []string
	for rows.Next() {
		var k, line string
		if err := rows.Scan(&k, &line); err != nil {
			rows.Close()
			return removed, err
		}
		live, err := s.codec.Live(line, now)
		if errors.Is(err, key.ErrKeyUnavailable) {
			rows.Close()
			return removed, err
		}
		if !live {
			stale = append(stale, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return removed, err
	}
	if len(stale) == 0 {
		return removed, nil
	}
	tag, err := tx.Exec(ctx, `DELETE FROM ironsession_sessions WHERE index_key = ANY($1)`, stale)
	if err != nil {
		return removed, err
	}
	return removed + int(tag.RowsAffected()), nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func deleteExpired(ctx context.Context, tx pgx.Tx, now time.Time) (int, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM ironsession_sessions WHERE expires_at <= $1`, now.Unix())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
