// Package storagetest is a conformance suite shared by every
// storage.Backend implementation.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironsession/storage"
)

// Clock is a settable time source for expiry tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Unix(1_700_000_000, 0)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory builds a fresh, empty backend that reads time from now.
type Factory func(t *testing.T, now func() time.Time) storage.Backend

func newRecord(clock *Clock, id string, ttl time.Duration) *storage.Record {
	now := clock.Now()
	return storage.NewRecord(id, now, now.Add(ttl))
}

// Run exercises the storage.Backend contract.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	setup := func(t *testing.T) (storage.Backend, *Clock) {
		clock := NewClock()
		return factory(t, clock.Now), clock
	}

	t.Run("GetMissing", func(t *testing.T) {
		b, _ := setup(t)
		_, err := b.Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		ok, err := b.Exists(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PutGet", func(t *testing.T) {
		b, clock := setup(t)
		rec := newRecord(clock, "abc123", 900*time.Second)
		rec.Vars.Set("csrftoken", "deadbeef")
		rec.Vars.Set("user", "alice|bob^^carol")
		require.NoError(t, b.Put(ctx, rec))

		got, err := b.Get(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.CreatedAt, got.CreatedAt)
		assert.Equal(t, rec.ExpiresAt, got.ExpiresAt)
		assert.Equal(t, []string{"csrftoken", "user"}, got.Vars.Keys())
		assert.Equal(t, rec.Vars.Map(), got.Vars.Map())

		ok, err := b.Exists(ctx, "abc123")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("PutReplaces", func(t *testing.T) {
		b, clock := setup(t)
		rec := newRecord(clock, "abc123", time.Hour)
		rec.Vars.Set("csrftoken", "one")
		require.NoError(t, b.Put(ctx, rec))

		rec.Vars.Set("csrftoken", "two")
		rec.Vars.Set("extra", "x")
		require.NoError(t, b.Put(ctx, rec))

		got, err := b.Get(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"csrftoken": "two", "extra": "x"}, got.Vars.Map())
	})

	t.Run("ReturnedRecordIsACopy", func(t *testing.T) {
		b, clock := setup(t)
		rec := newRecord(clock, "abc123", time.Hour)
		require.NoError(t, b.Put(ctx, rec))
		rec.Vars.Set("late", "change")

		got, err := b.Get(ctx, "abc123")
		require.NoError(t, err)
		_, ok := got.Vars.Get("late")
		assert.False(t, ok)
	})

	t.Run("Delete", func(t *testing.T) {
		b, clock := setup(t)
		require.NoError(t, b.Delete(ctx, "never-existed"))

		require.NoError(t, b.Put(ctx, newRecord(clock, "a", time.Hour)))
		require.NoError(t, b.Put(ctx, newRecord(clock, "b", time.Hour)))
		require.NoError(t, b.Delete(ctx, "a"))
		require.NoError(t, b.Delete(ctx, "a"))

		_, err := b.Get(ctx, "a")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = b.Get(ctx, "b")
		assert.NoError(t, err)
	})

	t.Run("ManySessions", func(t *testing.T) {
		b, clock := setup(t)
		for i := range 20 {
			rec := newRecord(clock, fmt.Sprintf("session-%02d", i), time.Hour)
			rec.Vars.Set("n", fmt.Sprint(i))
			require.NoError(t, b.Put(ctx, rec))
		}
		for i := range 20 {
			got, err := b.Get(ctx, fmt.Sprintf("session-%02d", i))
			require.NoError(t, err)
			n, _ := got.Vars.Get("n")
			assert.Equal(t, fmt.Sprint(i), n)
		}
	})

	t.Run("ExpiredIsInvisible", func(t *testing.T) {
		b, clock := setup(t)
		require.NoError(t, b.Put(ctx, newRecord(clock, "short", 10*time.Second)))
		require.NoError(t, b.Put(ctx, newRecord(clock, "long", time.Hour)))

		clock.Advance(10 * time.Second)

		_, err := b.Get(ctx, "short")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		ok, err := b.Exists(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = b.Get(ctx, "long")
		assert.NoError(t, err)
	})

	t.Run("Sweep", func(t *testing.T) {
		b, clock := setup(t)
		n, err := b.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		require.NoError(t, b.Put(ctx, newRecord(clock, "short", 10*time.Second)))
		require.NoError(t, b.Put(ctx, newRecord(clock, "long", time.Hour)))
		clock.Advance(time.Minute)

		n, err = b.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = b.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = b.Get(ctx, "long")
		assert.NoError(t, err)
	})

	t.Run("ExpiredScenario", func(t *testing.T) {
		b, clock := setup(t)
		rec := newRecord(clock, "abc123", 900*time.Second)
		rec.Vars.Set("csrftoken", "deadbeef")
		require.NoError(t, b.Put(ctx, rec))

		rec.ExpiresAt = clock.Now().Add(-time.Second).Unix()
		require.NoError(t, b.Put(ctx, rec))
		require.NoError(t, b.Put(ctx, newRecord(clock, "other", 900*time.Second)))

		_, err := b.Get(ctx, "abc123")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = b.Get(ctx, "other")
		assert.NoError(t, err)
	})

	t.Run("InvalidID", func(t *testing.T) {
		b, clock := setup(t)
		err := b.Put(ctx, newRecord(clock, "", time.Hour))
		assert.ErrorIs(t, err, storage.ErrInvalidID)
		err = b.Put(ctx, newRecord(clock, "bad\tid", time.Hour))
		assert.ErrorIs(t, err, storage.ErrInvalidID)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		b, clock := setup(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, b.Put(canceled, newRecord(clock, "abc123", time.Hour)))
		_, err := b.Get(canceled, "abc123")
		assert.Error(t, err)
	})
}
