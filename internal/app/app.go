// Package app assembles the key manager, storage backend, session store and
// CSRF manager described by a config.Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironsession/config"
	"github.com/jmcleod/ironsession/crypto"
	"github.com/jmcleod/ironsession/csrf"
	"github.com/jmcleod/ironsession/key"
	"github.com/jmcleod/ironsession/session"
	"github.com/jmcleod/ironsession/storage"
	boltstore "github.com/jmcleod/ironsession/storage/bbolt"
	"github.com/jmcleod/ironsession/storage/flatfile"
	"github.com/jmcleod/ironsession/storage/memory"
	"github.com/jmcleod/ironsession/storage/postgres"
	redisstore "github.com/jmcleod/ironsession/storage/redis"
)

// App holds the wired components. Close releases backend connections.
type App struct {
	Config   config.Config
	Keys     *key.Manager
	Backend  storage.Backend
	Sessions *session.Store
	CSRF     *csrf.Manager

	closers []func() error
}

// New wires every component from cfg. Backends that talk to a server are
// connected here.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config: cfg,
		Keys:   key.NewManager(cfg.Store.KeyFile, key.WithLogger(logger)),
	}

	var fieldCodec crypto.FieldCodec = crypto.PlainCodec{}
	var indexer storage.Indexer = storage.PlainIndexer{}
	if cfg.Store.Encrypt {
		fieldCodec = crypto.NewAESCodec(a.Keys)
		indexer = storage.NewHMACIndexer(key.Derive(a.Keys, key.InfoIndex))
	}
	codec, err := storage.NewLineCodec(fieldCodec, cfg.Store.Delimiters)
	if err != nil {
		return nil, err
	}

	if err := a.openBackend(ctx, codec, indexer, logger); err != nil {
		return nil, err
	}

	a.Sessions = session.NewStore(a.Backend,
		session.WithTTL(cfg.Store.TTL()),
		session.WithScheme(session.ParseScheme(cfg.Store.IDScheme)),
		session.WithLogger(logger),
	)

	cookieOpts := []csrf.CookieOption{csrf.WithSecureCookies(cfg.CSRF.SecureCookies)}
	if cfg.CSRF.EncryptCookies {
		cookieOpts = append(cookieOpts, csrf.WithCookieCodec(crypto.NewAESCodec(key.Derive(a.Keys, key.InfoCookie))))
	}
	a.CSRF = csrf.NewManager(a.Sessions, csrf.NewHTTPCookies(cfg.CSRF.CookieName, cookieOpts...),
		csrf.WithPolicy(csrf.Policy{
			Enabled:         cfg.CSRF.Enabled,
			Skip:            cfg.CSRF.Skip,
			CaseInsensitive: cfg.CSRF.CaseInsensitive,
		}),
		csrf.WithTokenVar(cfg.CSRF.TokenVar),
		csrf.WithFormField(cfg.CSRF.FormField),
		csrf.WithLogger(logger),
	)
	return a, nil
}

func (a *App) openBackend(ctx context.Context, codec *storage.LineCodec, indexer storage.Indexer, logger *slog.Logger) error {
	s := a.Config.Store
	switch s.Backend {
	case config.BackendFile:
		a.Backend = flatfile.New(s.Dir, s.File, codec, flatfile.WithLogger(logger))
	case config.BackendMemory:
		a.Backend = memory.New(codec, indexer)
	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(s.Bolt.Path), 0o700); err != nil {
			return fmt.Errorf("creating bolt directory: %w", err)
		}
		store, err := boltstore.NewStoreFromFile(s.Bolt.Path, bbolt.DefaultOptions, codec, indexer)
		if err != nil {
			return err
		}
		a.Backend = store
		a.closers = append(a.closers, store.Close)
	case config.BackendPostgres:
		store, err := postgres.NewStoreFromDSN(ctx, s.Postgres.DSN, codec, indexer)
		if err != nil {
			return err
		}
		a.Backend = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.Backend = redisstore.NewStore(client, codec, indexer, redisstore.WithPrefix(s.Redis.Prefix))
		a.closers = append(a.closers, client.Close)
	default:
		return fmt.Errorf("%w: unknown store backend %q", config.ErrInvalid, s.Backend)
	}
	return nil
}

// StorePath describes where sessions live, for logs and CLI output.
func (a *App) StorePath() string {
	s := a.Config.Store
	switch s.Backend {
	case config.BackendFile:
		return filepath.Join(s.Dir, s.File)
	case config.BackendBolt:
		return s.Bolt.Path
	case config.BackendRedis:
		return "redis://" + s.Redis.Addr + "/" + s.Redis.Prefix
	case config.BackendPostgres:
		return "postgres"
	default:
		return s.Backend
	}
}

// ResetStore removes every stored session. It is used after key rotation,
// when old records can no longer be decrypted.
func (a *App) ResetStore(ctx context.Context) error {
	if ff, ok := a.Backend.(*flatfile.Backend); ok {
		if err := os.Remove(ff.Path()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing store file: %w", err)
		}
		return nil
	}
	_, err := a.Backend.Sweep(ctx)
	return err
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
