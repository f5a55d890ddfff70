package key

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), "keys", "keyfile.key"))
}

func TestManager_CreateIfAbsent(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.Exists())

	require.NoError(t, m.CreateIfAbsent())
	assert.True(t, m.Exists())

	info, err := os.Stat(m.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(m.Path()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestManager_CreateIfAbsentNeverOverwrites(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateIfAbsent())
	before, err := os.ReadFile(m.Path())
	require.NoError(t, err)

	require.NoError(t, m.CreateIfAbsent())
	require.NoError(t, NewManager(m.Path()).CreateIfAbsent())

	after, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestManager_Key(t *testing.T) {
	m := newTestManager(t)

	k1, err := m.Key()
	require.NoError(t, err)
	assert.Len(t, k1, 32)
	assert.True(t, m.Exists(), "Key should create the key file on demand")

	k2, err := m.Key()
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	// Wiping a returned copy must not affect the cache.
	for i := range k1 {
		k1[i] = 0
	}
	k3, err := m.Key()
	require.NoError(t, err)
	assert.Equal(t, k2, k3)

	// A second manager reading the same file sees the same key.
	other, err := NewManager(m.Path()).Key()
	require.NoError(t, err)
	assert.Equal(t, k2, other)
}

func TestManager_KeyToleratesWhitespace(t *testing.T) {
	m := newTestManager(t)
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(m.Path()), 0o700))
	content := "  " + base64.StdEncoding.EncodeToString(raw) + " \r\n"
	require.NoError(t, os.WriteFile(m.Path(), []byte(content), 0o600))

	k, err := m.Key()
	require.NoError(t, err)
	assert.Equal(t, raw, k)
}

func TestManager_KeyUnavailable(t *testing.T) {
	t.Run("BadBase64", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(m.Path()), 0o700))
		require.NoError(t, os.WriteFile(m.Path(), []byte("not base64!!"), 0o600))
		_, err := m.Key()
		assert.ErrorIs(t, err, ErrKeyUnavailable)
	})

	t.Run("WrongLength", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(m.Path()), 0o700))
		short := base64.StdEncoding.EncodeToString([]byte("sixteen byte key"))
		require.NoError(t, os.WriteFile(m.Path(), []byte(short), 0o600))
		_, err := m.Key()
		assert.ErrorIs(t, err, ErrKeyUnavailable)
	})

	t.Run("ParentIsFile", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
		m := NewManager(filepath.Join(blocker, "keyfile.key"))
		_, err := m.Key()
		assert.ErrorIs(t, err, ErrKeyUnavailable)
	})

	t.Run("PathIsDirectory", func(t *testing.T) {
		dir := t.TempDir()
		m := NewManager(dir)
		_, err := m.Key()
		assert.ErrorIs(t, err, ErrKeyUnavailable)
	})
}

func TestManager_ReloadAndRotate(t *testing.T) {
	m := newTestManager(t)
	k1, err := m.Key()
	require.NoError(t, err)

	cached, err := m.Key()
	require.NoError(t, err)
	assert.Equal(t, k1, cached)

	// Another process rotates the key; the next call sees the new file.
	other := NewManager(m.Path())
	require.NoError(t, other.Rotate())
	k2, err := m.Key()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	fromOther, err := other.Key()
	require.NoError(t, err)
	assert.Equal(t, fromOther, k2)

	m.Reload()
	reloaded, err := m.Key()
	require.NoError(t, err)
	assert.Equal(t, k2, reloaded)

	require.NoError(t, m.Rotate())
	k3, err := m.Key()
	require.NoError(t, err)
	assert.NotEqual(t, k2, k3)
}

func TestManager_KeyFileDeleted(t *testing.T) {
	m := newTestManager(t)
	k1, err := m.Key()
	require.NoError(t, err)

	require.NoError(t, os.Remove(m.Path()))
	k2, err := m.Key()
	require.NoError(t, err)
	assert.True(t, m.Exists(), "key file recreated")
	assert.NotEqual(t, k1, k2)
}

func TestManager_KeyFileReplacedInPlace(t *testing.T) {
	m := newTestManager(t)
	k1, err := m.Key()
	require.NoError(t, err)

	replacement := bytes.Repeat([]byte{0x5a}, 32)
	require.NoError(t, os.WriteFile(m.Path(), []byte(base64.StdEncoding.EncodeToString(replacement)+"\n"), 0o600))
	// Make the change visible on filesystems with coarse timestamps.
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(m.Path(), later, later))

	k2, err := m.Key()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, replacement, k2)
}

func TestDerive(t *testing.T) {
	master := Static(make([]byte, 32))

	cookie, err := Derive(master, InfoCookie).Key()
	require.NoError(t, err)
	index, err := Derive(master, InfoIndex).Key()
	require.NoError(t, err)
	again, err := Derive(master, InfoCookie).Key()
	require.NoError(t, err)

	assert.Len(t, cookie, 32)
	assert.Equal(t, cookie, again)
	assert.NotEqual(t, cookie, index)
	assert.NotEqual(t, []byte(master), cookie)
}

func TestDerive_PropagatesUnavailable(t *testing.T) {
	_, err := Derive(Static([]byte("short")), InfoCookie).Key()
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}
