package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironsession/config"
	"github.com/jmcleod/ironsession/storage"
	boltstore "github.com/jmcleod/ironsession/storage/bbolt"
	"github.com/jmcleod/ironsession/storage/flatfile"
	"github.com/jmcleod/ironsession/storage/memory"
	redisstore "github.com/jmcleod/ironsession/storage/redis"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Dir = filepath.Join(t.TempDir(), "store")
	cfg.Store.KeyFile = filepath.Join(t.TempDir(), "key", "keyfile.key")
	cfg.Store.Bolt.Path = filepath.Join(t.TempDir(), "bolt", "sessions.db")
	return cfg
}

func roundTrip(t *testing.T, a *App) {
	t.Helper()
	ctx := context.Background()
	rec, err := a.Sessions.Create(ctx, "", 0)
	require.NoError(t, err)
	require.NoError(t, a.Sessions.SetVariable(ctx, rec, "k", "v"))
	got, err := a.Sessions.Get(ctx, rec.ID)
	require.NoError(t, err)
	v, _ := got.Vars.Get("k")
	assert.Equal(t, "v", v)
}

func TestNew_Backends(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		a, err := New(context.Background(), testConfig(t), nil)
		require.NoError(t, err)
		defer a.Close()
		assert.IsType(t, &flatfile.Backend{}, a.Backend)
		roundTrip(t, a)
		assert.True(t, a.Keys.Exists())
		_, err = os.Stat(a.StorePath())
		assert.NoError(t, err)
	})

	t.Run("Memory", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Backend = config.BackendMemory
		a, err := New(context.Background(), cfg, nil)
		require.NoError(t, err)
		defer a.Close()
		assert.IsType(t, &memory.Backend{}, a.Backend)
		roundTrip(t, a)
	})

	t.Run("Bolt", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Backend = config.BackendBolt
		a, err := New(context.Background(), cfg, nil)
		require.NoError(t, err)
		defer a.Close()
		assert.IsType(t, &boltstore.Store{}, a.Backend)
		roundTrip(t, a)
	})

	t.Run("Redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t)
		cfg.Store.Backend = config.BackendRedis
		cfg.Store.Redis.Addr = mr.Addr()
		a, err := New(context.Background(), cfg, nil)
		require.NoError(t, err)
		defer a.Close()
		assert.IsType(t, &redisstore.Store{}, a.Backend)
		roundTrip(t, a)
		assert.Len(t, mr.Keys(), 1)
	})

	t.Run("RedisUnreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		cfg := testConfig(t)
		cfg.Store.Backend = config.BackendRedis
		cfg.Store.Redis.Addr = addr
		_, err := New(context.Background(), cfg, nil)
		assert.Error(t, err)
	})

	t.Run("Unknown", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Store.Backend = "s3"
		_, err := New(context.Background(), cfg, nil)
		assert.ErrorIs(t, err, config.ErrInvalid)
	})
}

func TestNew_Plaintext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Encrypt = false
	cfg.CSRF.EncryptCookies = false
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	rec, err := a.Sessions.Create(context.Background(), "abc123", 0)
	require.NoError(t, err)
	data, err := os.ReadFile(a.StorePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), rec.ID)
	assert.False(t, a.Keys.Exists(), "no key is needed without encryption")
}

func TestNew_CSRFWiring(t *testing.T) {
	cfg := testConfig(t)
	cfg.CSRF.CookieName = "custom_sid"
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	w := httptest.NewRecorder()
	token, err := a.CSRF.EnsureToken(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Len(t, token, 40)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "custom_sid", cookies[0].Name)
}

func TestResetStore(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	rec, err := a.Sessions.Create(ctx, "", 0)
	require.NoError(t, err)
	require.NoError(t, a.Keys.Rotate())
	require.NoError(t, a.ResetStore(ctx))

	_, err = a.Sessions.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = os.Stat(a.StorePath())
	assert.True(t, os.IsNotExist(err))
}
