// Package session is the variable-level API over a storage.Backend: it
// creates sessions with generated ids and default lifetimes, and persists
// every variable change with a single upsert.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/jmcleod/ironsession/storage"
)

const DefaultTTL = 900 * time.Second

// Store manages sessions in a backend. It holds no session state of its
// own; records returned by it are detached copies the caller mutates
// through the Set/Delete/Update methods.
type Store struct {
	backend storage.Backend
	ttl     time.Duration
	scheme  Scheme
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Store)

// WithTTL sets the lifetime used when Create is given a non-positive ttl.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithScheme(scheme Scheme) Option {
	return func(s *Store) {
		s.scheme = scheme
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ttl:     DefaultTTL,
		scheme:  SchemeUUID,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

func (s *Store) Backend() storage.Backend {
	return s.backend
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create writes a new empty session. An empty id is generated from the
// store's scheme; a non-positive ttl uses the store default.
func (s *Store) Create(ctx context.Context, id string, ttl time.Duration) (*storage.Record, error) {
	if id == "" {
		var err error
		if id, err = s.scheme.NewID(); err != nil {
			return nil, fmt.Errorf("generating session id: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	rec := storage.NewRecord(id, now, now.Add(ttl))
	if err := s.backend.Put(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Debug("created session", "ttl", ttl)
	return rec, nil
}

// Get returns the live session or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*storage.Record, error) {
	return s.backend.Get(ctx, id)
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	return s.backend.Exists(ctx, id)
}

// Upsert writes rec, replacing any stored session with the same id.
func (s *Store) Upsert(ctx context.Context, rec *storage.Record) error {
	return s.backend.Put(ctx, rec)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, id)
}

// Sweep removes expired and unreadable sessions.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	n, err := s.backend.Sweep(ctx)
	if err != nil {
		return n, err
	}
	s.logger.Info("swept sessions", "removed", n)
	return n, nil
}

// GetVariable reads key from rec without touching the backend.
func (s *Store) GetVariable(rec *storage.Record, key string) (string, bool) {
	return rec.Vars.Get(key)
}

// SetVariable sets key on rec and persists rec. The change is applied to
// rec only once the write succeeds.
func (s *Store) SetVariable(ctx context.Context, rec *storage.Record, key, value string) error {
	return s.commit(ctx, rec, func(c *storage.Record) {
		c.Vars.Set(key, value)
	})
}

// SetVariables sets every pair in vars on rec, in sorted key order, and
// persists rec once.
func (s *Store) SetVariables(ctx context.Context, rec *storage.Record, vars map[string]string) error {
	return s.commit(ctx, rec, func(c *storage.Record) {
		for _, k := range slices.Sorted(maps.Keys(vars)) {
			c.Vars.Set(k, vars[k])
		}
	})
}

// DeleteVariable removes key from rec and persists rec. Removing a missing
// key still rewrites the record.
func (s *Store) DeleteVariable(ctx context.Context, rec *storage.Record, key string) error {
	return s.commit(ctx, rec, func(c *storage.Record) {
		c.Vars.Delete(key)
	})
}

// UpdateExpiry moves rec's expiry to t and persists rec. A time at or
// before now effectively deletes the session on the next write.
func (s *Store) UpdateExpiry(ctx context.Context, rec *storage.Record, t time.Time) error {
	return s.commit(ctx, rec, func(c *storage.Record) {
		c.ExpiresAt = t.Unix()
	})
}

// commit applies mutate to a copy of rec, writes the copy and, on success,
// copies it back. A failed write leaves rec as it was.
func (s *Store) commit(ctx context.Context, rec *storage.Record, mutate func(*storage.Record)) error {
	c := rec.Clone()
	mutate(c)
	if err := s.Upsert(ctx, c); err != nil {
		return err
	}
	*rec = *c
	return nil
}
