// Package service assembles the offline cache layer and exposes its single
// request entry point.
//
// One Service owns the cache store, the offline queue, the strategy router,
// the lifecycle manager, the sync coordinator and the optional signal bus.
// Every intercepted request flows through Handle: mutating requests go to
// the network and fall back to the queue, everything else is routed to a
// fetch strategy.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/offlinekit/cachestore"
	"github.com/c360/offlinekit/config"
	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/fetch"
	"github.com/c360/offlinekit/lifecycle"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/retry"
	"github.com/c360/offlinekit/queue"
	"github.com/c360/offlinekit/signal"
	"github.com/c360/offlinekit/strategy"
	"github.com/c360/offlinekit/syncer"
)

// Service is the assembled offline cache layer.
type Service struct {
	cfg     *config.SafeConfig
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	fetcher fetch.Fetcher

	store   *cachestore.Store
	queue   *queue.Queue
	set     *strategy.Set
	router  *strategy.Router
	manager *lifecycle.Manager
	coord   *syncer.Coordinator
	bus     *signal.Bus

	// serving is the handle answering reads right now. During an upgrade it
	// stays on the previous version until the new one activates.
	serving atomic.Pointer[cachestore.Handle]

	mu          sync.Mutex
	initialized bool
	running     bool
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetricsRegistry shares a metrics registry with the caller
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Service) {
		s.metrics = registry
	}
}

// WithFetcher replaces the default HTTP fetcher
func WithFetcher(fetcher fetch.Fetcher) Option {
	return func(s *Service) {
		s.fetcher = fetcher
	}
}

// New creates an unstarted service from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Service", "New", "config required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    config.NewSafeConfig(cfg.Clone()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.fetcher == nil {
		var fopts []fetch.HTTPOption
		if cfg.FetchTimeout > 0 {
			fopts = append(fopts, fetch.WithTimeout(cfg.FetchTimeout))
		}
		s.fetcher = fetch.NewHTTPFetcher(fopts...)
	}
	return s, nil
}

// Initialize opens storage and builds the component graph. No network or
// broker traffic happens here.
func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Service", "Initialize", "already initialized")
	}
	cfg := s.cfg.Get()

	store, err := cachestore.Open(cfg.StoragePath,
		cachestore.WithLogger(s.logger.With("component", "cachestore")),
		cachestore.WithMetricsRegistry(s.metrics),
		cachestore.WithFrontCacheSize(cfg.FrontCacheSize),
	)
	if err != nil {
		return err
	}

	q, err := queue.Open(cfg.QueuePath,
		queue.WithLogger(s.logger.With("component", "queue")),
		queue.WithMetricsRegistry(s.metrics),
	)
	if err != nil {
		_ = store.Close()
		return err
	}

	var setOpts []strategy.SetOption
	setOpts = append(setOpts,
		strategy.WithLogger(s.logger.With("component", "strategy")),
		strategy.WithMetricsRegistry(s.metrics),
		strategy.WithRefreshPool(cfg.RefreshWorkers, cfg.RefreshQueueSize),
	)
	if cfg.OfflinePage != "" {
		setOpts = append(setOpts, strategy.WithOfflinePage(fetch.Identity("GET", cfg.OfflinePage)))
	}
	set := strategy.NewSet(s.currentHandle, s.fetcher, setOpts...)

	router, err := strategy.NewRouter(cfg.Origin, cfg.RuntimePatterns, set, s.fetcher,
		strategy.WithRouterLogger(s.logger.With("component", "router")),
		strategy.WithRouterMetrics(s.metrics),
	)
	if err != nil {
		_ = q.Close()
		_ = store.Close()
		return err
	}

	manager, err := lifecycle.NewManager(store, cfg.Version, cfg.CriticalResources, s.fetcher,
		lifecycle.WithLogger(s.logger.With("component", "lifecycle")),
		lifecycle.WithMetricsRegistry(s.metrics),
	)
	if err != nil {
		_ = q.Close()
		_ = store.Close()
		return err
	}

	coord, err := syncer.NewCoordinator(q, s.fetcher,
		syncer.WithLogger(s.logger.With("component", "syncer")),
		syncer.WithMetricsRegistry(s.metrics),
		syncer.WithRetryConfig(retry.Config{MaxAttempts: cfg.ReplayAttempts}),
	)
	if err != nil {
		_ = q.Close()
		_ = store.Close()
		return err
	}

	if cfg.NATS.Enabled {
		bus, err := signal.NewBus(cfg.NATS.URL,
			signal.WithLogger(s.logger.With("component", "signal")),
			signal.WithMetricsRegistry(s.metrics),
			signal.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			signal.WithClientName("offlinekit-"+cfg.Version),
		)
		if err != nil {
			_ = q.Close()
			_ = store.Close()
			return err
		}
		s.bus = bus
	}

	s.store = store
	s.queue = q
	s.set = set
	s.router = router
	s.manager = manager
	s.coord = coord
	s.initialized = true
	return nil
}

// Start installs the configured cache version and brings the layer online.
// If an older version is already stored it keeps serving until the new one
// activates; the first ever version activates immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Service", "Start", "Initialize must run first")
	}
	if s.running {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Service", "Start", "already running")
	}
	s.mu.Unlock()
	cfg := s.cfg.Get()

	// Serve from a previous version while the new one installs.
	if prev, err := s.previousHandle(cfg.Version); err == nil && prev != nil {
		s.serving.Store(prev)
	}

	if err := s.set.Start(ctx); err != nil {
		return err
	}

	if err := s.manager.Install(ctx); err != nil {
		if s.serving.Load() == nil {
			// Nothing stored can serve reads; the failure is the caller's.
			_ = s.set.Stop(time.Second)
			return err
		}
		// The version transition aborts but the previous version keeps
		// serving. A later restart retries the install.
		s.logger.Error("install failed, serving previous version",
			"version", cfg.Version, "error", err)
	}
	if s.manager.Phase() == lifecycle.PhaseActive {
		s.serving.Store(s.manager.Handle())
	}

	if s.bus != nil {
		if err := s.connectBus(ctx); err != nil {
			// Offline-first by definition: a missing broker degrades signal
			// delivery, it does not block startup.
			s.logger.Warn("signal bus unavailable, continuing without signals", "error", err)
		}
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.logger.Info("offline cache layer started",
		"version", cfg.Version,
		"phase", s.manager.Phase().String(),
		"origin", cfg.Origin)
	return nil
}

// Stop shuts the layer down, draining background work within the timeout.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Service", "Stop", "not running")
	}
	s.running = false
	s.mu.Unlock()

	var firstErr error
	if s.bus != nil {
		if err := s.bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.set.Stop(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.queue.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.logger.Info("offline cache layer stopped")
	return firstErr
}

// Handle serves one intercepted request. Mutating requests try the network
// and join the offline queue on failure; everything else goes through the
// strategy router and always resolves to a response.
func (s *Service) Handle(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "Service", "Handle", "service not running")
	}

	if req.Mutating {
		return s.handleMutating(ctx, req)
	}
	return s.router.Handle(ctx, req)
}

// handleMutating never caches and never replays synchronously: on network
// failure the request is queued durably and acknowledged with a 202 so the
// caller knows it was deferred, not delivered.
func (s *Service) handleMutating(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	resp, err := s.fetcher.Fetch(ctx, req)
	if err == nil {
		return resp, nil
	}

	tag := req.SyncTag
	if strings.TrimSpace(tag) == "" {
		tag = s.cfg.Get().DefaultSyncTag
	}

	id, qerr := s.queue.Enqueue(tag, req.URL, req.Body, req.ContentType)
	if qerr != nil {
		// Both network and storage failed; the submission is genuinely lost
		// unless the caller retries.
		return nil, qerr
	}

	s.logger.Info("mutation deferred to offline queue", "tag", tag, "id", id, "endpoint", req.URL)
	body, _ := json.Marshal(map[string]any{
		"queued": true,
		"tag":    tag,
		"id":     id,
	})
	return &fetch.Response{
		Status:  202,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

// Sync runs one drain pass. An empty tag drains the default queue.
func (s *Service) Sync(ctx context.Context, tag string) (syncer.Result, error) {
	if strings.TrimSpace(tag) == "" {
		tag = s.cfg.Get().DefaultSyncTag
	}
	return s.coord.Sync(ctx, tag)
}

// SyncAll drains every known queue.
func (s *Service) SyncAll(ctx context.Context) ([]syncer.Result, error) {
	return s.coord.SyncAll(ctx)
}

// SkipWaiting activates the installed version immediately.
func (s *Service) SkipWaiting() error {
	if err := s.manager.SkipWaiting(); err != nil {
		return err
	}
	if s.manager.Phase() == lifecycle.PhaseActive {
		s.serving.Store(s.manager.Handle())
	}
	return nil
}

// Phase reports the lifecycle phase of the configured version.
func (s *Service) Phase() lifecycle.Phase {
	return s.manager.Phase()
}

// WarmCache pre-fetches URLs into the serving version, reporting per-URL
// results. Failures warm nothing for that URL but do not abort the rest.
func (s *Service) WarmCache(ctx context.Context, urls []string) []signal.WarmResult {
	results := make([]signal.WarmResult, 0, len(urls))
	handle := s.serving.Load()

	for _, url := range urls {
		if handle == nil {
			results = append(results, signal.WarmResult{URL: url, Error: "no active cache version"})
			continue
		}

		resp, err := s.fetcher.Fetch(ctx, fetch.Request{Method: "GET", URL: url})
		if err != nil {
			results = append(results, signal.WarmResult{URL: url, Error: err.Error()})
			continue
		}
		if !resp.OK() {
			results = append(results, signal.WarmResult{URL: url,
				Error: fmt.Sprintf("origin returned %d", resp.Status)})
			continue
		}

		if err := handle.Put(fetch.Identity("GET", url), cachestore.Entry{
			Status:  resp.Status,
			Headers: resp.Headers,
			Body:    resp.Body,
		}); err != nil {
			results = append(results, signal.WarmResult{URL: url, Error: err.Error()})
			continue
		}
		results = append(results, signal.WarmResult{URL: url, OK: true})
	}
	return results
}

// QueueDepth reports the number of pending mutations for a tag.
func (s *Service) QueueDepth(tag string) (int, error) {
	if strings.TrimSpace(tag) == "" {
		tag = s.cfg.Get().DefaultSyncTag
	}
	return s.queue.Len(tag)
}

// Config returns a consistent snapshot of the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg.Get()
}

// CacheStats returns a snapshot of cache effectiveness counters.
func (s *Service) CacheStats() cachestore.Stats {
	return s.store.Stats()
}

// currentHandle is the strategy set's view of the cache. It always reflects
// the version that should answer reads right now.
func (s *Service) currentHandle() *cachestore.Handle {
	return s.serving.Load()
}

// previousHandle opens the most recent stored version other than current,
// nil when this is a first install.
func (s *Service) previousHandle(current string) (*cachestore.Handle, error) {
	versions, err := s.store.Versions()
	if err != nil {
		return nil, err
	}

	var last string
	for _, v := range versions {
		if v != current && v > last {
			last = v
		}
	}
	if last == "" {
		return nil, nil
	}
	return s.store.OpenVersion(last)
}

func (s *Service) connectBus(ctx context.Context) error {
	if err := s.bus.Connect(); err != nil {
		return err
	}

	err := s.bus.SubscribeSync(ctx, func(ctx context.Context, tag string) {
		if _, err := s.coord.Sync(ctx, tag); err != nil {
			s.logger.Warn("signal-triggered drain failed", "tag", tag, "error", err)
		}
	})
	if err != nil {
		return err
	}

	return s.bus.SubscribeControl(ctx,
		func(context.Context) {
			if err := s.SkipWaiting(); err != nil {
				s.logger.Warn("skip-waiting signal failed", "error", err)
			}
		},
		func(ctx context.Context, urls []string) []signal.WarmResult {
			return s.WarmCache(ctx, urls)
		},
	)
}
