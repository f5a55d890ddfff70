// Package flatfile stores session records as lines of a single text file.
//
// Every write rewrites the whole file into a temporary sibling and renames it
// over the live file, dropping expired and undecodable lines on the way.
// There is no locking: two concurrent writers each rename their own copy and
// the later rename wins.
package flatfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmcleod/ironsession/key"
	"github.com/jmcleod/ironsession/storage"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// Backend is a storage.Backend over one flat file.
type Backend struct {
	path   string
	codec  *storage.LineCodec
	logger *slog.Logger
	now    func() time.Time

	// beforeRename runs after the temp file is complete and before it
	// replaces the live file.
	beforeRename func(tmpPath string) error
}

var _ storage.Backend = (*Backend)(nil)

type Option func(*Backend)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New returns a backend for the file name in dir. Neither needs to exist
// yet; both are created on the first write.
func New(dir, name string, codec *storage.LineCodec, opts ...Option) *Backend {
	b := &Backend{
		path:   filepath.Join(dir, name),
		codec:  codec,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "flatfile")
	return b
}

// Path returns the live store file path.
func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Get(ctx context.Context, id string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var found *storage.Record
	err := b.scan(func(line string) (bool, error) {
		ok, err := b.matchLive(line, id)
		if err != nil || !ok {
			return false, err
		}
		rec, err := b.codec.DecodeLine(line)
		if errors.Is(err, key.ErrKeyUnavailable) {
			return false, err
		}
		if err != nil {
			b.logger.Debug("skipping unreadable line", "error", err)
			return false, nil
		}
		found = rec
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return found, nil
}

func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var exists bool
	err := b.scan(func(line string) (bool, error) {
		ok, err := b.matchLive(line, id)
		if err != nil {
			return false, err
		}
		exists = ok
		return ok, nil
	})
	return exists, err
}

// matchLive reports whether line belongs to id and has not expired. The id
// field is decoded first so non-matching lines cost one decryption.
func (b *Backend) matchLive(line, id string) (bool, error) {
	lineID, err := b.codec.DecodeID(line)
	if errors.Is(err, key.ErrKeyUnavailable) {
		return false, err
	}
	if err != nil || lineID != id {
		return false, nil
	}
	return b.codec.Live(line, b.now())
}

func (b *Backend) Put(ctx context.Context, rec *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := b.codec.EncodeLine(rec)
	if err != nil {
		return err
	}
	_, err = b.rewrite(rec.ID, line)
	return err
}

func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.fileExists() {
		return nil
	}
	_, err := b.rewrite(id, "")
	return err
}

func (b *Backend) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !b.fileExists() {
		return 0, nil
	}
	return b.rewrite("", "")
}

func (b *Backend) fileExists() bool {
	_, err := os.Stat(b.path)
	return err == nil
}

// scan calls fn for every non-empty line until fn returns true or an error.
// A missing file has no lines.
func (b *Backend) scan(fn func(line string) (bool, error)) error {
	f, err := os.Open(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("reading store: %w", readErr)
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			stop, err := fn(line)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		if readErr != nil {
			return nil
		}
	}
}

// rewrite copies the live file into a temp file and renames it into place.
// The line for target is replaced by replacement, or dropped when
// replacement is empty; a missing target line gets replacement appended.
// Expired and undecodable lines are dropped and counted.
func (b *Backend) rewrite(target, replacement string) (dropped int, err error) {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return 0, fmt.Errorf("creating store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	now := b.now()
	w := bufio.NewWriter(tmp)
	written := false
	err = b.scan(func(line string) (bool, error) {
		id, err := b.codec.DecodeID(line)
		if errors.Is(err, key.ErrKeyUnavailable) {
			return false, err
		}
		if err != nil {
			b.logger.Debug("dropping unreadable line", "error", err)
			dropped++
			return false, nil
		}
		if target != "" && id == target {
			if replacement != "" && !written {
				written = true
				return false, writeLine(w, replacement)
			}
			return false, nil
		}
		live, err := b.codec.Live(line, now)
		if err != nil {
			return false, err
		}
		if !live {
			dropped++
			return false, nil
		}
		return false, writeLine(w, line)
	})
	if err != nil {
		return 0, err
	}
	if replacement != "" && !written {
		if err := writeLine(w, replacement); err != nil {
			return 0, err
		}
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, fileMode); err != nil {
		return 0, fmt.Errorf("setting store permissions: %w", err)
	}
	if b.beforeRename != nil {
		if err := b.beforeRename(tmpPath); err != nil {
			return 0, err
		}
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return 0, fmt.Errorf("replacing store: %w", err)
	}
	renamed = true

	if dropped > 0 {
		b.logger.Debug("dropped stale lines", "count", dropped)
	}
	return dropped, nil
}

func writeLine(w *bufio.Writer, line string) error {
	if _, err := w.WriteString(line); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	return w.WriteByte('\n')
}
