// Package config loads ironsession settings from defaults, an optional YAML
// file, an optional .env file and IRONSESSION_* environment variables, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jmcleod/ironsession/storage"
)

const EnvPrefix = "IRONSESSION_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Backend names.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Store  StoreConfig  `yaml:"store" envPrefix:"STORE_"`
	CSRF   CSRFConfig   `yaml:"csrf" envPrefix:"CSRF_"`
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
}

type StoreConfig struct {
	Backend    string             `yaml:"backend" env:"BACKEND"`
	File       string             `yaml:"file" env:"FILE"`
	Dir        string             `yaml:"dir" env:"DIR"`
	KeyFile    string             `yaml:"key_file" env:"KEY_FILE"`
	Delimiters storage.Delimiters `yaml:"delimiters" envPrefix:"DELIM_"`
	TTLSeconds int                `yaml:"ttl_seconds" env:"TTL_SECONDS"`
	IDScheme   string             `yaml:"id_scheme" env:"ID_SCHEME"`
	Encrypt    bool               `yaml:"encrypt" env:"ENCRYPT"`
	Bolt       BoltConfig         `yaml:"bolt" envPrefix:"BOLT_"`
	Postgres   PostgresConfig     `yaml:"postgres" envPrefix:"POSTGRES_"`
	Redis      RedisConfig        `yaml:"redis" envPrefix:"REDIS_"`
}

// TTL returns the default session lifetime.
func (s StoreConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

type BoltConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

type CSRFConfig struct {
	Enabled         bool     `yaml:"enabled" env:"ENABLED"`
	CookieName      string   `yaml:"cookie_name" env:"COOKIE_NAME"`
	TokenVar        string   `yaml:"token_var" env:"TOKEN_VAR"`
	FormField       string   `yaml:"form_field" env:"FORM_FIELD"`
	Skip            []string `yaml:"skip" env:"SKIP" envSeparator:","`
	CaseInsensitive bool     `yaml:"case_insensitive" env:"CASE_INSENSITIVE"`
	SecureCookies   bool     `yaml:"secure_cookies" env:"SECURE_COOKIES"`
	EncryptCookies  bool     `yaml:"encrypt_cookies" env:"ENCRYPT_COOKIES"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr" env:"ADDR"`
	TLSCert string `yaml:"tls_cert" env:"TLS_CERT"`
	TLSKey  string `yaml:"tls_key" env:"TLS_KEY"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend:    BackendFile,
			File:       "ironsession.txt",
			Dir:        "/tmp/ironsession",
			KeyFile:    "/tmp/ironsession-key/keyfile.key",
			Delimiters: storage.DefaultDelimiters(),
			TTLSeconds: 900,
			IDScheme:   "uuid",
			Encrypt:    true,
			Bolt:       BoltConfig{Path: "/tmp/ironsession/ironsession.db"},
			Redis:      RedisConfig{Addr: "localhost:6379", Prefix: "ironsession:session:"},
		},
		CSRF: CSRFConfig{
			Enabled:        true,
			CookieName:     "ironsession_sid",
			TokenVar:       "csrftoken",
			FormField:      "RandomToken",
			EncryptCookies: true,
		},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a validated Config. file may be empty. dotenv files that do
// not exist are ignored; with none given, ".env" is tried.
func Load(file string, dotenv ...string) (Config, error) {
	cfg := Default()

	if file != "" {
		if err := loadYAML(file, &cfg); err != nil {
			return Config{}, err
		}
	}

	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file %s: %w", file, err)
	}
	return nil
}

// Validate reports every problem found, each wrapping ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	s := c.Store
	switch s.Backend {
	case BackendFile:
		if s.File == "" || strings.ContainsAny(s.File, `/\`) {
			bad("store.file must be a bare file name, got %q", s.File)
		}
		if s.Dir == "" {
			bad("store.dir is required")
		}
	case BackendMemory:
	case BackendBolt:
		if s.Bolt.Path == "" {
			bad("store.bolt.path is required for the bolt backend")
		}
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			bad("store.postgres.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if s.Redis.Addr == "" {
			bad("store.redis.addr is required for the redis backend")
		}
	default:
		bad("unknown store.backend %q", s.Backend)
	}
	if s.KeyFile == "" && (s.Encrypt || c.CSRF.EncryptCookies) {
		bad("store.key_file is required when encryption is enabled")
	}
	if s.TTLSeconds <= 0 {
		bad("store.ttl_seconds must be positive, got %d", s.TTLSeconds)
	}
	if err := s.Delimiters.Validate(); err != nil {
		bad("store.delimiters: %v", err)
	}

	if c.CSRF.CookieName == "" {
		bad("csrf.cookie_name is required")
	}
	if c.CSRF.TokenVar == "" {
		bad("csrf.token_var is required")
	}
	if c.CSRF.FormField == "" {
		bad("csrf.form_field is required")
	}

	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		bad("server.tls_cert and server.tls_key must be set together")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		bad("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}

// Logger builds a slog.Logger writing to w.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
