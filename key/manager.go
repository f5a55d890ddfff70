// Package key manages the symmetric key that protects stored session fields.
//
// The key lives in a single file holding 32 random bytes encoded as standard
// base64. The file must sit outside the session store directory and outside
// any document root served over HTTP; Manager does not enforce this.
package key

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironsession/internal/util"
)

const (
	keyFileMode = 0o600
	keyDirMode  = 0o700
)

// Source yields the raw 32-byte key. Callers may wipe the returned slice.
type Source interface {
	Key() ([]byte, error)
}

// Manager owns the key file at a fixed path. The decoded key is cached in a
// memguard Enclave together with the file's identity; the cache is dropped
// as soon as the file is removed or replaced, so other processes can rotate
// the key under a running server.
type Manager struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	cached *memguard.Enclave
	stamp  fs.FileInfo
}

var _ Source = (*Manager)(nil)

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(path string, opts ...Option) *Manager {
	m := &Manager{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "key")
	return m
}

func (m *Manager) Path() string {
	return m.path
}

// Exists reports whether the key file is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// CreateIfAbsent writes a fresh random key unless the file already exists.
// An existing file is never overwritten, and losing a creation race to
// another process counts as success.
func (m *Manager) CreateIfAbsent() error {
	if m.Exists() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), keyDirMode); err != nil {
		return fmt.Errorf("%w: creating key directory: %v", ErrKeyUnavailable, err)
	}

	raw, err := util.NewAESKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	defer util.WipeBytes(raw)

	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, keyFileMode)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: creating key file: %v", ErrKeyUnavailable, err)
	}

	encoded := base64.StdEncoding.EncodeToString(raw) + "\n"
	if _, err := f.WriteString(encoded); err != nil {
		_ = f.Close()
		_ = os.Remove(m.path)
		return fmt.Errorf("%w: writing key file: %v", ErrKeyUnavailable, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(m.path)
		return fmt.Errorf("%w: closing key file: %v", ErrKeyUnavailable, err)
	}
	m.logger.Info("created key file", "path", m.path)
	return nil
}

// Key returns a copy of the key, creating the key file first if needed. The
// file is checked on every call and re-read when it has changed.
func (m *Manager) Key() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, statErr := os.Stat(m.path)
	if m.cached != nil {
		if statErr == nil && sameKeyFile(m.stamp, info) {
			buf, err := m.cached.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: opening key enclave: %v", ErrKeyUnavailable, err)
			}
			defer buf.Destroy()
			return util.CopyBytes(buf.Bytes()), nil
		}
		m.logger.Warn("key file changed, reloading", "path", m.path)
		m.dropCache()
	}

	if statErr != nil {
		if err := m.CreateIfAbsent(); err != nil {
			return nil, err
		}
		var err error
		if info, err = os.Stat(m.path); err != nil {
			return nil, fmt.Errorf("%w: checking key file: %v", ErrKeyUnavailable, err)
		}
	}
	// A replacement between the stat and the read leaves a stale stamp,
	// which only forces one more reload.
	raw, err := m.read()
	if err != nil {
		return nil, err
	}
	out := util.CopyBytes(raw)
	// NewEnclave wipes raw.
	m.cached = memguard.NewEnclave(raw)
	m.stamp = info
	return out, nil
}

// sameKeyFile reports whether b describes the file that was read as a.
func sameKeyFile(a, b fs.FileInfo) bool {
	return a != nil && os.SameFile(a, b) &&
		a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

func (m *Manager) dropCache() {
	m.cached = nil
	m.stamp = nil
}

func (m *Manager) read() ([]byte, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading key file: %v", ErrKeyUnavailable, err)
	}
	defer util.WipeBytes(data)

	trimmed := bytes.TrimSpace(data)
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(trimmed)))
	n, err := base64.StdEncoding.Decode(raw, trimmed)
	if err != nil {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("%w: decoding key file: %v", ErrKeyUnavailable, err)
	}
	raw = raw[:n]
	if len(raw) != util.AESKeySize {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrKeyUnavailable, util.AESKeySize, n)
	}
	return raw, nil
}

// Reload drops the cached key so the next Key call re-reads the file.
func (m *Manager) Reload() {
	m.mu.Lock()
	m.dropCache()
	m.mu.Unlock()
}

// Rotate replaces the key file with a freshly generated key. Data encrypted
// under the previous key becomes unreadable.
func (m *Manager) Rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing key file: %v", ErrKeyUnavailable, err)
	}
	m.dropCache()
	if err := m.CreateIfAbsent(); err != nil {
		return err
	}
	m.logger.Warn("rotated key file", "path", m.path)
	return nil
}
