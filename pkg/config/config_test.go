package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "local", cfg.Lock.Backend)
	assert.Equal(t, 5*time.Second, cfg.Import.Timeout)

	s := cfg.Settings()
	assert.True(t, s.ModifySpeed)
	assert.Equal(t, int64(100), s.MinSpeed)
	assert.Equal(t, 3, s.Stale.NotifyCount)
	assert.True(t, s.Notify.MailDebug)
	assert.Equal(t, 360*time.Hour, s.Notify.ErrorPeriod)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "ixfsync.yaml", `
log:
  level: debug
  format: json
store: sql
database:
  driver: mysql
  host: db.internal
import:
  timeout: 30s
  workers: 8
  cache: file
  cache_dir: /var/cache/ixf
  max_speed: 400000
  stale:
    enabled: true
    notify_period: 720h
notify:
  networks: true
  subject_prefix: "[peeringdb]"
  from: ixf@example.net
  helpdesk:
    url: https://desk.example.net/api/
    key: k
server:
  addr: ":9443"
`)
	t.Setenv("MYSQL_HOST", "db.override")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("IXF_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, "3306", cfg.Database.Port)
	assert.Equal(t, 30*time.Second, cfg.Import.Timeout)
	assert.Equal(t, 2, cfg.Import.Workers)
	assert.Equal(t, "0123456789abcdef0123", cfg.Server.JWTSecret)
	assert.Equal(t, ":9443", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Notify.Helpdesk.Timeout)

	s := cfg.Settings()
	assert.Equal(t, int64(400000), s.MaxSpeed)
	assert.True(t, s.Stale.Enabled)
	assert.Equal(t, 720*time.Hour, s.Stale.NotifyPeriod)
	assert.True(t, s.Notify.NotifyNetworks)
	assert.Equal(t, "[peeringdb]", s.Notify.SubjectPrefix)
	assert.Equal(t, "ixf@example.net", s.Notify.From)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "IXF_STORE=sql\nIXF_DB_PATH=/tmp/ixf.db\n")
	t.Cleanup(func() {
		os.Unsetenv("IXF_STORE")
		os.Unsetenv("IXF_DB_PATH")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sql", cfg.Store)
	assert.Equal(t, "/tmp/ixf.db", cfg.Database.Path)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	bad := writeFile(t, dir, "bad.yaml", "import: [")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parse config")

	t.Setenv("IXF_WORKERS", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "IXF_WORKERS")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown store", func(c *Config) { c.Store = "etcd" }, false},
		{"redis without url", func(c *Config) { c.Import.Cache = "redis" }, false},
		{"redis with url", func(c *Config) {
			c.Import.Cache = "redis"
			c.Import.RedisURL = "redis://127.0.0.1:6379/0"
		}, true},
		{"file cache without dir", func(c *Config) { c.Import.Cache = "file" }, false},
		{"consul without addr", func(c *Config) { c.Lock.Backend = "consul" }, false},
		{"zero workers", func(c *Config) { c.Import.Workers = 0 }, false},
		{"short secret", func(c *Config) { c.Server.JWTSecret = "short" }, false},
		{"admin without hash", func(c *Config) { c.Server.AdminUser = "admin" }, false},
		{"tls key without cert", func(c *Config) { c.Server.TLSKey = "key.pem" }, false},
		{"client ca without tls", func(c *Config) { c.Server.ClientCA = "ca.pem" }, false},
		{"bad smtp addr", func(c *Config) { c.Notify.SMTP.Addr = "mail" }, false},
		{"smtp addr", func(c *Config) { c.Notify.SMTP.Addr = "mail.example.net:25" }, true},
		{"max below min", func(c *Config) { c.Import.MaxSpeed = 10 }, false},
		{"unbounded max", func(c *Config) { c.Import.MaxSpeed = 0 }, true},
		{"bad db driver", func(c *Config) { c.Database.Driver = "postgres" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
