// Package redis implements storage.Backend on Redis. Records expire
// natively through key TTLs; every write also scans the prefix and deletes
// entries that no longer decode.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/ironsession/key"
	"github.com/jmcleod/ironsession/storage"
)

const DefaultPrefix = "ironsession:session:"

// Store keeps encoded record lines under prefixed index keys.
type Store struct {
	client  goredis.UniversalClient
	codec   *storage.LineCodec
	indexer storage.Indexer
	prefix  string
	now     func() time.Time
}

var _ storage.Backend = (*Store)(nil)

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(client goredis.UniversalClient, codec *storage.LineCodec, indexer storage.Indexer, opts ...Option) *Store {
	s := &Store{
		client:  client,
		codec:   codec,
		indexer: indexer,
		prefix:  DefaultPrefix,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) redisKey(id string) (string, error) {
	k, err := s.indexer.Index(id)
	if err != nil {
		return "", err
	}
	return s.prefix + k, nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	k, err := s.redisKey(id)
	if err != nil {
		return nil, err
	}
	line, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
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

// Put stores the line with a TTL matching the record's remaining lifetime.
// An already expired record is deleted instead.
func (s *Store) Put(ctx context.Context, rec *storage.Record) error {
	line, err := s.codec.EncodeLine(rec)
	if err != nil {
		return err
	}
	k, err := s.redisKey(rec.ID)
	if err != nil {
		return err
	}
	now := s.now()
	remaining := rec.ExpiresAt - now.Unix()
	if remaining <= 0 {
		if err := s.client.Del(ctx, k).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	} else if err := s.client.Set(ctx, k, line, time.Duration(remaining)*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	_, err = s.sweep(ctx, now)
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	k, err := s.redisKey(id)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	_, err = s.sweep(ctx, s.now())
	return err
}

// Sweep scans the key prefix and deletes entries that are expired by the
// store's clock or no longer decode.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	return s.sweep(ctx, s.now())
}

func (s *Store) sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		line, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("redis get: %w", err)
		}
		live, err := s.codec.Live(line, now)
		if errors.Is(err, key.ErrKeyUnavailable) {
			return removed, err
		}
		if live {
			continue
		}
		n, err := s.client.Del(ctx, k).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}
