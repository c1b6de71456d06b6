package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/offlinekit/config"
	"github.com/c360/offlinekit/fetch"
	"github.com/c360/offlinekit/lifecycle"
)

// switchableFetcher serves 200 for everything until taken offline.
type switchableFetcher struct {
	mu      sync.Mutex
	offline bool
	seen    []fetch.Request
}

func (f *switchableFetcher) Fetch(_ context.Context, req fetch.Request) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, req)

	if f.offline {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	return &fetch.Response{
		Status:  200,
		Headers: map[string]string{"Content-Type": "text/html"},
		Body:    []byte("content of " + req.URL),
	}, nil
}

func (f *switchableFetcher) setOffline(offline bool) {
	f.mu.Lock()
	f.offline = offline
	f.mu.Unlock()
}

func (f *switchableFetcher) requests() []fetch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetch.Request(nil), f.seen...)
}

func testConfig(t *testing.T, version string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Version = version
	cfg.Origin = "https://example.com"
	cfg.StoragePath = filepath.Join(dir, "cache.db")
	cfg.QueuePath = filepath.Join(dir, "queue.db")
	cfg.CriticalResources = []string{
		"https://example.com/",
		"https://example.com/offline.html",
	}
	cfg.OfflinePage = "https://example.com/offline.html"
	cfg.DefaultSyncTag = "default"
	return cfg
}

func startService(t *testing.T, cfg *config.Config, fetcher fetch.Fetcher) *Service {
	t.Helper()
	svc, err := New(cfg, WithFetcher(fetcher))
	require.NoError(t, err)
	require.NoError(t, svc.Initialize())
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		_ = svc.Stop(time.Second)
	})
	return svc
}

func TestService_FirstInstallActivates(t *testing.T) {
	fetcher := &switchableFetcher{}
	svc := startService(t, testConfig(t, "app-cache-v1"), fetcher)

	assert.Equal(t, lifecycle.PhaseActive, svc.Phase())
}

func TestService_HandleRequiresRunning(t *testing.T) {
	svc, err := New(testConfig(t, "app-cache-v1"), WithFetcher(&switchableFetcher{}))
	require.NoError(t, err)

	_, err = svc.Handle(context.Background(), fetch.Request{Method: "GET", URL: "https://example.com/"})
	assert.Error(t, err)
}

func TestService_StartRequiresInitialize(t *testing.T) {
	svc, err := New(testConfig(t, "app-cache-v1"), WithFetcher(&switchableFetcher{}))
	require.NoError(t, err)
	assert.Error(t, svc.Start(context.Background()))
}

func TestService_NonMutatingRouted(t *testing.T) {
	fetcher := &switchableFetcher{}
	svc := startService(t, testConfig(t, "app-cache-v1"), fetcher)

	resp, err := svc.Handle(context.Background(), fetch.Request{
		Method: "GET",
		URL:    "https://example.com/data/programs.json",
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
}

func TestService_OfflineNavigationServesOfflinePage(t *testing.T) {
	fetcher := &switchableFetcher{}
	svc := startService(t, testConfig(t, "app-cache-v1"), fetcher)

	fetcher.setOffline(true)

	resp, err := svc.Handle(context.Background(), fetch.Request{
		Method: "GET",
		URL:    "https://example.com/never-visited",
		Type:   fetch.ResourceNavigation,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("content of https://example.com/offline.html"), resp.Body)
}

func TestService_MutatingSuccessPassesThrough(t *testing.T) {
	fetcher := &switchableFetcher{}
	svc := startService(t, testConfig(t, "app-cache-v1"), fetcher)

	resp, err := svc.Handle(context.Background(), fetch.Request{
		Method:      "POST",
		URL:         "https://example.com/api/contact",
		Mutating:    true,
		Body:        []byte(`{"name":"alex"}`),
		ContentType: "application/json",
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	depth, err := svc.QueueDepth("")
	require.NoError(t, err)
	assert.Zero(t, depth, "successful mutations are never queued")
}

func TestService_MutatingFailureQueuesAndSyncReplays(t *testing.T) {
	fetcher := &switchableFetcher{}
	svc := startService(t, testConfig(t, "app-cache-v1"), fetcher)

	fetcher.setOffline(true)
	resp, err := svc.Handle(context.Background(), fetch.Request{
		Method:      "POST",
		URL:         "https://example.com/api/contact",
		Mutating:    true,
		Body:        []byte(`{"name":"alex"}`),
		ContentType: "application/json",
	})
	require.NoError(t, err)
	assert.Equal(t, 202, resp.Status, "deferred, not delivered")
	assert.Contains(t, string(resp.Body), `"queued":true`)

	depth, err := svc.QueueDepth("")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	fetcher.setOffline(false)
	result, err := svc.Sync(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Replayed)

	depth, err = svc.QueueDepth("")
	require.NoError(t, err)
	assert.Zero(t, depth)

	// The replay carried the original payload.
	var replayed *fetch.Request
	for _, req := range fetcher.requests() {
		if req.Mutating && req.URL == "https://example.com/api/contact" && len(req.Body) > 0 {
			r := req
			replayed = &r
		}
	}
	require.NotNil(t, replayed)
	assert.Equal(t, []byte(`{"name":"alex"}`), replayed.Body)
}

func TestService_MutatingCustomSyncTag(t *testing.T) {
	fetcher := &switchableFetcher{}
	svc := startService(t, testConfig(t, "app-cache-v1"), fetcher)

	fetcher.setOffline(true)
	_, err := svc.Handle(context.Background(), fetch.Request{
		Method:   "POST",
		URL:      "https://example.com/api/subscribe",
		Mutating: true,
		SyncTag:  "newsletter",
	})
	require.NoError(t, err)

	depth, err := svc.QueueDepth("newsletter")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	depth, err = svc.QueueDepth("")
	require.NoError(t, err)
	assert.Zero(t, depth, "tagged mutations skip the default queue")
}

func TestService_WarmCache(t *testing.T) {
	fetcher := &switchableFetcher{}
	svc := startService(t, testConfig(t, "app-cache-v1"), fetcher)

	results := svc.WarmCache(context.Background(), []string{
		"https://example.com/programs",
		"https://example.com/gallery",
	})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.OK, r.URL)
	}

	// Warmed pages serve from cache when offline.
	fetcher.setOffline(true)
	resp, err := svc.Handle(context.Background(), fetch.Request{
		Method: "GET",
		URL:    "https://example.com/programs",
		Type:   fetch.ResourceNavigation,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("content of https://example.com/programs"), resp.Body)
}

func TestService_WarmCacheReportsFailures(t *testing.T) {
	fetcher := &switchableFetcher{}
	svc := startService(t, testConfig(t, "app-cache-v1"), fetcher)

	fetcher.setOffline(true)
	results := svc.WarmCache(context.Background(), []string{"https://example.com/programs"})
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.NotEmpty(t, results[0].Error)
}

func TestService_UpgradeWaitsThenSkipWaiting(t *testing.T) {
	dir := t.TempDir()
	fetcher := &switchableFetcher{}

	cfgV1 := testConfig(t, "app-cache-v1")
	cfgV1.StoragePath = filepath.Join(dir, "cache.db")
	cfgV1.QueuePath = filepath.Join(dir, "queue.db")

	v1, err := New(cfgV1, WithFetcher(fetcher))
	require.NoError(t, err)
	require.NoError(t, v1.Initialize())
	require.NoError(t, v1.Start(context.Background()))
	require.Equal(t, lifecycle.PhaseActive, v1.Phase())
	require.NoError(t, v1.Stop(time.Second))

	cfgV2 := testConfig(t, "app-cache-v2")
	cfgV2.StoragePath = cfgV1.StoragePath
	cfgV2.QueuePath = cfgV1.QueuePath

	v2 := startService(t, cfgV2, fetcher)
	assert.Equal(t, lifecycle.PhaseWaiting, v2.Phase(), "an existing version holds the new one in waiting")

	// Reads still work while waiting, served from the previous version.
	fetcher.setOffline(true)
	resp, err := v2.Handle(context.Background(), fetch.Request{
		Method: "GET",
		URL:    "https://example.com/offline.html",
		Type:   fetch.ResourceNavigation,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	fetcher.setOffline(false)

	require.NoError(t, v2.SkipWaiting())
	assert.Equal(t, lifecycle.PhaseActive, v2.Phase())
}

func TestService_InstallFailureFailsStart(t *testing.T) {
	fetcher := &switchableFetcher{}
	fetcher.setOffline(true)

	svc, err := New(testConfig(t, "app-cache-v1"), WithFetcher(fetcher))
	require.NoError(t, err)
	require.NoError(t, svc.Initialize())

	err = svc.Start(context.Background())
	require.Error(t, err, "a first install cannot succeed offline")
	assert.Equal(t, lifecycle.PhaseFailed, svc.Phase())
}

func TestService_InstallFailureKeepsPreviousVersionServing(t *testing.T) {
	dir := t.TempDir()
	fetcher := &switchableFetcher{}

	cfgV1 := testConfig(t, "app-cache-v1")
	cfgV1.StoragePath = filepath.Join(dir, "cache.db")
	cfgV1.QueuePath = filepath.Join(dir, "queue.db")

	v1, err := New(cfgV1, WithFetcher(fetcher))
	require.NoError(t, err)
	require.NoError(t, v1.Initialize())
	require.NoError(t, v1.Start(context.Background()))
	require.NoError(t, v1.Stop(time.Second))

	// The upgrade install cannot succeed offline, but the version already on
	// disk keeps answering reads.
	fetcher.setOffline(true)
	cfgV2 := testConfig(t, "app-cache-v2")
	cfgV2.StoragePath = cfgV1.StoragePath
	cfgV2.QueuePath = cfgV1.QueuePath

	v2 := startService(t, cfgV2, fetcher)
	assert.Equal(t, lifecycle.PhaseFailed, v2.Phase())

	resp, err := v2.Handle(context.Background(), fetch.Request{
		Method: "GET",
		URL:    "https://example.com/offline.html",
		Type:   fetch.ResourceNavigation,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("content of https://example.com/offline.html"), resp.Body)
}

func TestService_FailedInstallDoesNotShadowPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	fetcher := &switchableFetcher{}

	cfgV1 := testConfig(t, "app-cache-v1")
	cfgV1.StoragePath = filepath.Join(dir, "cache.db")
	cfgV1.QueuePath = filepath.Join(dir, "queue.db")

	v1, err := New(cfgV1, WithFetcher(fetcher))
	require.NoError(t, err)
	require.NoError(t, v1.Initialize())
	require.NoError(t, v1.Start(context.Background()))
	require.NoError(t, v1.Stop(time.Second))

	// v2 fails to install offline and must leave no trace behind.
	fetcher.setOffline(true)
	cfgV2 := testConfig(t, "app-cache-v2")
	cfgV2.StoragePath = cfgV1.StoragePath
	cfgV2.QueuePath = cfgV1.QueuePath

	v2, err := New(cfgV2, WithFetcher(fetcher))
	require.NoError(t, err)
	require.NoError(t, v2.Initialize())
	require.NoError(t, v2.Start(context.Background()))
	require.Equal(t, lifecycle.PhaseFailed, v2.Phase())
	require.NoError(t, v2.Stop(time.Second))
	fetcher.setOffline(false)

	// v3 installs behind v1, not behind an empty leftover of v2.
	cfgV3 := testConfig(t, "app-cache-v3")
	cfgV3.StoragePath = cfgV1.StoragePath
	cfgV3.QueuePath = cfgV1.QueuePath

	v3 := startService(t, cfgV3, fetcher)
	require.Equal(t, lifecycle.PhaseWaiting, v3.Phase())

	fetcher.setOffline(true)
	resp, err := v3.Handle(context.Background(), fetch.Request{
		Method: "GET",
		URL:    "https://example.com/offline.html",
		Type:   fetch.ResourceNavigation,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("content of https://example.com/offline.html"), resp.Body)
}

func TestService_ConfigSnapshot(t *testing.T) {
	cfg := testConfig(t, "app-cache-v1")
	svc, err := New(cfg, WithFetcher(&switchableFetcher{}))
	require.NoError(t, err)

	snap := svc.Config()
	assert.Equal(t, "app-cache-v1", snap.Version)

	// Neither the snapshot nor the original config reaches back into the
	// service.
	snap.DefaultSyncTag = "changed"
	cfg.DefaultSyncTag = "changed-too"
	assert.Equal(t, "default", svc.Config().DefaultSyncTag)
}

func TestService_CacheStats(t *testing.T) {
	fetcher := &switchableFetcher{}
	svc := startService(t, testConfig(t, "app-cache-v1"), fetcher)

	// One miss, then one hit on the same identity.
	req := fetch.Request{Method: "GET", URL: "https://example.com/css/main.css", Type: fetch.ResourceStyle}
	_, err := svc.Handle(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Handle(context.Background(), req)
	require.NoError(t, err)

	stats := svc.CacheStats()
	assert.Positive(t, stats.Hits+stats.Misses)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := testConfig(t, "app-cache-v1")
	cfg.Origin = ""
	_, err = New(cfg, WithFetcher(&switchableFetcher{}))
	assert.Error(t, err)
}
