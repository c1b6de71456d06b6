package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Version = "app-cache-v1.0.0"
	cfg.Origin = "https://example.com"
	cfg.StoragePath = "/var/lib/offlinekit/cache.db"
	cfg.QueuePath = "/var/lib/offlinekit/queue.db"
	cfg.CriticalResources = []string{
		"https://example.com/",
		"https://example.com/offline.html",
	}
	cfg.OfflinePage = "https://example.com/offline.html"
	return cfg
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing version", func(c *Config) { c.Version = " " }},
		{"relative origin", func(c *Config) { c.Origin = "/app" }},
		{"empty origin", func(c *Config) { c.Origin = "" }},
		{"missing storage path", func(c *Config) { c.StoragePath = "" }},
		{"missing queue path", func(c *Config) { c.QueuePath = "" }},
		{"shared db file", func(c *Config) { c.QueuePath = c.StoragePath }},
		{"empty critical set", func(c *Config) { c.CriticalResources = nil }},
		{"offline page outside critical set", func(c *Config) { c.OfflinePage = "https://example.com/other.html" }},
		{"negative fetch timeout", func(c *Config) { c.FetchTimeout = -time.Second }},
		{"negative workers", func(c *Config) { c.RefreshWorkers = -1 }},
		{"nats enabled without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
		{"metrics port out of range", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 512, cfg.FrontCacheSize)
	assert.Equal(t, 2, cfg.RefreshWorkers)
	assert.Equal(t, 64, cfg.RefreshQueueSize)
	assert.Equal(t, 1, cfg.ReplayAttempts)
	assert.Equal(t, "default", cfg.DefaultSyncTag)
	assert.Equal(t, "offlinekit", cfg.NATS.SubjectPrefix)
	assert.Equal(t, time.Duration(0), cfg.FetchTimeout, "no artificial timeout unless configured")
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"version": "app-cache-v2",
		"origin": "https://example.com",
		"storage_path": "/tmp/cache.db",
		"queue_path": "/tmp/queue.db",
		"critical_resources": ["https://example.com/"],
		"refresh_workers": 4,
		"nats": {"enabled": true, "url": "nats://localhost:4222"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "app-cache-v2", cfg.Version)
	assert.Equal(t, 4, cfg.RefreshWorkers)
	assert.Equal(t, 512, cfg.FrontCacheSize, "unset fields keep defaults")
	assert.Equal(t, "offlinekit", cfg.NATS.SubjectPrefix)
	assert.True(t, cfg.NATS.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)

	path = filepath.Join(t.TempDir(), "incomplete.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"v1"}`), 0o600))
	_, err = Load(path)
	assert.Error(t, err, "loaded configs are validated")
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	got := sc.Get()
	got.Version = "mutated"
	assert.Equal(t, "app-cache-v1.0.0", sc.Get().Version, "Get returns a copy")

	next := validConfig()
	next.Version = "app-cache-v2.0.0"
	require.NoError(t, sc.Update(next))
	assert.Equal(t, "app-cache-v2.0.0", sc.Get().Version)

	bad := validConfig()
	bad.Origin = ""
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))
}
