package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, "memory", c.Cache.Kind)
	require.Equal(t, 12*time.Hour, c.Session.TTL)
	require.Equal(t, 10*time.Minute, c.Session.PendingTTL)
	require.Equal(t, "fail_open", c.Gate.AllowlistOnError)
	require.False(t, c.Gate.AllowDebug)
}

func TestLoad_YAMLAndRelativeSecrets(t *testing.T) {
	p := writeYAML(t, `
server:
  addr: ":9090"
secrets:
  file: secrets.toml
session:
  ttl: 2h
gate:
  allow_debug: true
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, ":9090", c.Server.Addr)
	require.Equal(t, filepath.Join(filepath.Dir(p), "secrets.toml"), c.Secrets.File)
	require.Equal(t, 2*time.Hour, c.Session.TTL)
	require.True(t, c.Gate.AllowDebug)
}

func TestLoad_EnvOverridesAndProdGuard(t *testing.T) {
	t.Setenv("APP_ENV", "PROD")
	t.Setenv("SERVER_ADDR", ":7000")
	t.Setenv("GATE_ALLOW_DEBUG", "true")
	t.Setenv("CACHE_KIND", "REDIS")
	t.Setenv("SESSION_TTL", "30m")

	c, err := Load("")
	require.NoError(t, err)
	require.True(t, c.IsProd())
	require.Equal(t, ":7000", c.Server.Addr)
	require.Equal(t, "redis", c.Cache.Kind)
	require.Equal(t, 30*time.Minute, c.Session.TTL)
	require.False(t, c.Gate.AllowDebug)
}

func TestLoad_Invalid(t *testing.T) {
	p := writeYAML(t, `
cache:
  kind: memcached
gate:
  allowlist_on_error: maybe
`)
	_, err := Load(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cache.kind")
	require.Contains(t, err.Error(), "allowlist_on_error")
}

func TestLoad_PendingTTLBounds(t *testing.T) {
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("SESSION_PENDING_TTL", "2h")
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "session.pending_ttl")

	t.Setenv("SESSION_PENDING_TTL", "5m")
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, c.Session.PendingTTL)
}
