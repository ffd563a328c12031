package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, filepath.Join(dataHome, "digidex"), cfg.Data.Dir)
	assert.Empty(t, cfg.Data.SQLitePath)
	assert.Equal(t, 4, cfg.Data.DownloadWorkers)
	assert.Equal(t, "https://digimon-api.vercel.app", cfg.API.BaseURL)
	assert.Equal(t, 300*time.Second, cfg.Cache.Duration)
	assert.Equal(t, 100, cfg.Cache.MemoryEntries)
	assert.Equal(t, int64(50<<20), cfg.Cache.MemoryBytes)
	assert.Equal(t, int64(100<<20), cfg.Cache.DiskBytes)
	assert.False(t, cfg.Auth.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Equal(t, filepath.Join(dataHome, "digidex", "images"), cfg.ImageDir())
	assert.Equal(t, filepath.Join(dataHome, "digidex", "http-cache"), cfg.HTTPCacheDir())
}

func TestLoad_DefaultFileFromConfigHome(t *testing.T) {
	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)
	require.NoError(t, os.MkdirAll(filepath.Join(configHome, "digidex"), 0o755))
	writeFile(t, filepath.Join(configHome, "digidex", "config.yaml"), `
server:
  addr: "127.0.0.1:9000"
cache:
  duration: 2m
`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Cache.Duration)
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digidex.yaml")
	writeFile(t, path, `
data:
  dir: /var/lib/digidex
  download_workers: 8
auth:
  secret: s3cret
  issuer: https://id.example.com
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/digidex", cfg.Data.Dir)
	assert.Equal(t, 8, cfg.Data.DownloadWorkers)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, "https://id.example.com", cfg.Auth.Issuer)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DIGIDEX_SERVER_ADDR", ":7070")
	t.Setenv("DIGIDEX_API_BASE_URL", "http://localhost:3000")
	t.Setenv("DIGIDEX_CACHE_DURATION", "45s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:3000", cfg.API.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Cache.Duration)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "zero cache duration", body: "cache:\n  duration: 0s\n"},
		{name: "no workers", body: "data:\n  download_workers: 0\n"},
		{name: "empty addr", body: "server:\n  addr: \"\"\n"},
		{name: "malformed yaml", body: "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tt.body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}
