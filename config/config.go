// Package config defines the JSON configuration of the offline cache layer.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/c360/offlinekit/errors"
)

// Config is the complete service configuration.
type Config struct {
	// Version names the cache version, e.g. "app-cache-v1.2.0". Bumping it
	// triggers a fresh install on next start.
	Version string `json:"version"`

	// Origin is the absolute base URL of the hosting application. Requests
	// to any other origin are pass-through unless a runtime pattern matches.
	Origin string `json:"origin"`

	StoragePath string `json:"storage_path"`
	QueuePath   string `json:"queue_path"`

	// CriticalResources is the URL set installed all-or-nothing; the
	// version is unusable until every one of them is cached.
	CriticalResources []string `json:"critical_resources"`

	// RuntimePatterns mark cross-origin URLs eligible for cache-first
	// handling (fonts, CDN assets).
	RuntimePatterns []string `json:"runtime_patterns,omitempty"`

	// OfflinePage is the URL of the pre-cached page served when a
	// navigation cannot be satisfied. Must be in CriticalResources.
	OfflinePage string `json:"offline_page,omitempty"`

	// FetchTimeout bounds each origin fetch; 0 means no artificial
	// timeout, matching network-first semantics.
	FetchTimeout time.Duration `json:"fetch_timeout,omitempty"`

	FrontCacheSize   int `json:"front_cache_size,omitempty"`
	RefreshWorkers   int `json:"refresh_workers,omitempty"`
	RefreshQueueSize int `json:"refresh_queue_size,omitempty"`

	// ReplayAttempts is the number of replay attempts per item per drain
	// pass. The default of 1 leaves retrying to the next sync signal.
	ReplayAttempts int `json:"replay_attempts,omitempty"`

	// DefaultSyncTag is the queue joined by failed mutations that carry no
	// tag of their own.
	DefaultSyncTag string `json:"default_sync_tag,omitempty"`

	NATS    NATSConfig    `json:"nats,omitempty"`
	Metrics MetricsConfig `json:"metrics,omitempty"`
}

// NATSConfig defines the signal bus connection.
type NATSConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// MetricsConfig defines the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults. Version,
// Origin, paths and the critical set still have to be provided.
func DefaultConfig() *Config {
	return &Config{
		FrontCacheSize:   512,
		RefreshWorkers:   2,
		RefreshQueueSize: 64,
		ReplayAttempts:   1,
		DefaultSyncTag:   "default",
		NATS: NATSConfig{
			SubjectPrefix: "offlinekit",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// Validate checks the configuration for completeness and consistency.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "version required")
	}
	parsed, err := url.Parse(c.Origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"origin must be an absolute URL")
	}
	if strings.TrimSpace(c.StoragePath) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "storage_path required")
	}
	if strings.TrimSpace(c.QueuePath) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "queue_path required")
	}
	if c.StoragePath == c.QueuePath {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"storage_path and queue_path must differ, bbolt allows one writer per file")
	}
	if len(c.CriticalResources) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"critical_resources must list at least one URL")
	}
	if c.OfflinePage != "" && !contains(c.CriticalResources, c.OfflinePage) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"offline_page must be part of critical_resources")
	}
	if c.FetchTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"fetch_timeout cannot be negative")
	}
	if c.FrontCacheSize < 0 || c.RefreshWorkers < 0 || c.RefreshQueueSize < 0 || c.ReplayAttempts < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"sizes and counts cannot be negative")
	}
	if c.NATS.Enabled && strings.TrimSpace(c.NATS.URL) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats.url required when nats is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}
	return nil
}

// Load reads and validates a JSON configuration file. Fields absent from
// the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load", "read config file")
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
