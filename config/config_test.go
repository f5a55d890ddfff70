package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noDotenv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "ironsession.txt", cfg.Store.File)
	assert.Equal(t, "/tmp/ironsession", cfg.Store.Dir)
	assert.Equal(t, "/tmp/ironsession-key/keyfile.key", cfg.Store.KeyFile)
	assert.Equal(t, 900*time.Second, cfg.Store.TTL())
	assert.Equal(t, "uuid", cfg.Store.IDScheme)
	assert.True(t, cfg.Store.Encrypt)
	assert.Equal(t, "\t", cfg.Store.Delimiters.Field)
	assert.Equal(t, "|", cfg.Store.Delimiters.Entry)
	assert.Equal(t, "^^", cfg.Store.Delimiters.KeyValue)
	assert.True(t, cfg.CSRF.Enabled)
	assert.Equal(t, "ironsession_sid", cfg.CSRF.CookieName)
	assert.Equal(t, "csrftoken", cfg.CSRF.TokenVar)
	assert.Equal(t, "RandomToken", cfg.CSRF.FormField)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("", noDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "ironsession.yaml", `
store:
  dir: /var/lib/ironsession
  ttl_seconds: 60
  id_scheme: hex40
  delimiters:
    entry: "~~"
csrf:
  skip: ["/hook", "/other"]
  case_insensitive: true
log:
  level: debug
  format: json
`)
	cfg, err := Load(path, noDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ironsession", cfg.Store.Dir)
	assert.Equal(t, time.Minute, cfg.Store.TTL())
	assert.Equal(t, "hex40", cfg.Store.IDScheme)
	assert.Equal(t, "~~", cfg.Store.Delimiters.Entry)
	assert.Equal(t, "\t", cfg.Store.Delimiters.Field, "unset fields keep defaults")
	assert.Equal(t, []string{"/hook", "/other"}, cfg.CSRF.Skip)
	assert.True(t, cfg.CSRF.CaseInsensitive)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""), noDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "store:\n  nope: 1\n"), noDotenv(t))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), noDotenv(t))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "ironsession.yaml", "store:\n  ttl_seconds: 60\n")
	t.Setenv("IRONSESSION_STORE_TTL_SECONDS", "120")
	t.Setenv("IRONSESSION_STORE_BACKEND", "redis")
	t.Setenv("IRONSESSION_STORE_REDIS_ADDR", "redis:6379")
	t.Setenv("IRONSESSION_STORE_ENCRYPT", "false")
	t.Setenv("IRONSESSION_STORE_DELIM_KEY_VALUE", "::")
	t.Setenv("IRONSESSION_CSRF_SKIP", "/a,/b")
	t.Setenv("IRONSESSION_SERVER_ADDR", "127.0.0.1:9000")

	cfg, err := Load(path, noDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.Store.TTL())
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.False(t, cfg.Store.Encrypt)
	assert.Equal(t, "::", cfg.Store.Delimiters.KeyValue)
	assert.Equal(t, []string{"/a", "/b"}, cfg.CSRF.Skip)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoad_Dotenv(t *testing.T) {
	dotenv := writeFile(t, ".env", "IRONSESSION_CSRF_COOKIE_NAME=from_dotenv\n")
	t.Cleanup(func() { os.Unsetenv("IRONSESSION_CSRF_COOKIE_NAME") })

	cfg, err := Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "from_dotenv", cfg.CSRF.CookieName)
}

func TestLoad_DotenvDoesNotOverrideEnv(t *testing.T) {
	dotenv := writeFile(t, ".env", "IRONSESSION_CSRF_TOKEN_VAR=from_dotenv\n")
	t.Setenv("IRONSESSION_CSRF_TOKEN_VAR", "from_env")

	cfg, err := Load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.CSRF.TokenVar)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"UnknownBackend":  func(c *Config) { c.Store.Backend = "s3" },
		"FileWithSlash":   func(c *Config) { c.Store.File = "../escape.txt" },
		"NoDir":           func(c *Config) { c.Store.Dir = "" },
		"NoKeyFile":       func(c *Config) { c.Store.KeyFile = "" },
		"ZeroTTL":         func(c *Config) { c.Store.TTLSeconds = 0 },
		"BadDelimiters":   func(c *Config) { c.Store.Delimiters.Entry = "^" },
		"BoltWithoutPath": func(c *Config) { c.Store.Backend = BackendBolt; c.Store.Bolt.Path = "" },
		"PostgresNoDSN":   func(c *Config) { c.Store.Backend = BackendPostgres },
		"RedisNoAddr":     func(c *Config) { c.Store.Backend = BackendRedis; c.Store.Redis.Addr = "" },
		"NoCookieName":    func(c *Config) { c.CSRF.CookieName = "" },
		"NoTokenVar":      func(c *Config) { c.CSRF.TokenVar = "" },
		"NoFormField":     func(c *Config) { c.CSRF.FormField = "" },
		"HalfTLS":         func(c *Config) { c.Server.TLSCert = "cert.pem" },
		"BadLogLevel":     func(c *Config) { c.Log.Level = "loud" },
		"BadLogFormat":    func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	t.Run("NoKeyFileWithoutEncryption", func(t *testing.T) {
		cfg := Default()
		cfg.Store.KeyFile = ""
		cfg.Store.Encrypt = false
		cfg.CSRF.EncryptCookies = false
		assert.NoError(t, cfg.Validate())
	})

	t.Run("ReportsAll", func(t *testing.T) {
		cfg := Default()
		cfg.Store.TTLSeconds = -1
		cfg.Log.Format = "xml"
		err := cfg.Validate()
		assert.Contains(t, err.Error(), "ttl_seconds")
		assert.Contains(t, err.Error(), "log.format")
	})
}

func TestLogConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.Logger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "debug", Format: "json"}.Logger(&buf).Debug("shown", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	LogConfig{Level: "info", Format: "text"}.Logger(&buf).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
