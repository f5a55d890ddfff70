// Package bbolt provides a BBolt-backed storage.Backend.
package bbolt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironsession/key"
	"github.com/jmcleod/ironsession/storage"
)

var bucketName = []byte("sessions")

// Store keeps encoded record lines in one bucket keyed by the indexer.
type Store struct {
	db      *bbolt.DB
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

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB, codec *storage.LineCodec, indexer storage.Indexer, opts ...Option) *Store {
	s := &Store{
		db:      db,
		codec:   codec,
		indexer: indexer,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreFromFile opens a BBolt database at the given path and returns a new Store.
func NewStoreFromFile(path string, options *bbolt.Options, codec *storage.LineCodec, indexer storage.Indexer, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db, codec, indexer, opts...), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := s.indexer.Index(id)
	if err != nil {
		return nil, err
	}
	var line string
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return storage.ErrNotFound
		}
		data := b.Get([]byte(k))
		if data == nil {
			return storage.ErrNotFound
		}
		line = string(data)
		return nil
	})
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
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := s.codec.EncodeLine(rec)
	if err != nil {
		return err
	}
	k, err := s.indexer.Index(rec.ID)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		if _, err := s.sweepBucket(b); err != nil {
			return err
		}
		return b.Put([]byte(k), []byte(line))
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := s.indexer.Index(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(k)); err != nil {
			return err
		}
		_, err := s.sweepBucket(b)
		return err
	})
}

func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var removed int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		var err error
		removed, err = s.sweepBucket(b)
		return err
	})
	return removed, err
}

// sweepBucket deletes expired and undecodable entries. Keys are collected
// first because a bucket must not be modified while iterating it.
func (s *Store) sweepBucket(b *bbolt.Bucket) (int, error) {
	now := s.now()
	var stale [][]byte
	err := b.ForEach(func(k, v []byte) error {
		live, err := s.codec.Live(string(v), now)
		if errors.Is(err, key.ErrKeyUnavailable) {
			return err
		}
		if !live {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
