// Package memory provides a thread-safe in-memory storage.Backend.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmcleod/ironsession/key"
	"github.com/jmcleod/ironsession/storage"
)

// Backend keeps encoded record lines in a map keyed by the indexer.
// Suitable for testing, demos, and single-process use cases.
type Backend struct {
	codec   *storage.LineCodec
	indexer storage.Indexer
	now     func() time.Time

	mu   sync.RWMutex
	data map[string]string
}

var _ storage.Backend = (*Backend)(nil)

type Option func(*Backend)

func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates an empty Backend.
func New(codec *storage.LineCodec, indexer storage.Indexer, opts ...Option) *Backend {
	b := &Backend{
		codec:   codec,
		indexer: indexer,
		now:     time.Now,
		data:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Get(ctx context.Context, id string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := b.indexer.Index(id)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	line, ok := b.data[k]
	b.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b.codec.Resolve(line, id, b.now())
}

func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	_, err := b.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) Put(ctx context.Context, rec *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := b.codec.EncodeLine(rec)
	if err != nil {
		return err
	}
	k, err := b.indexer.Index(rec.ID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.sweepLocked(); err != nil {
		return err
	}
	b.data[k] = line
	return nil
}

func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := b.indexer.Index(id)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, k)
	_, err = b.sweepLocked()
	return err
}

func (b *Backend) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sweepLocked()
}

func (b *Backend) sweepLocked() (int, error) {
	now := b.now()
	removed := 0
	for k, line := range b.data {
		live, err := b.codec.Live(line, now)
		if errors.Is(err, key.ErrKeyUnavailable) {
			return removed, err
		}
		if !live {
			delete(b.data, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored lines, live or not.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
