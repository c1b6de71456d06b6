package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/offlinekit/cachestore"
	"github.com/c360/offlinekit/fetch"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/worker"
)

// HandleProvider yields the cache handle of the currently active version.
// Indirection matters: the handle changes when a new version activates.
type HandleProvider func() *cachestore.Handle

// Set implements the fetch strategies against one cache handle provider and
// one origin fetcher.
type Set struct {
	handle  HandleProvider
	fetcher fetch.Fetcher
	logger  *slog.Logger
	core    *metric.Metrics

	// offlineIdentity addresses the pre-cached offline page used as the
	// last navigation fallback.
	offlineIdentity string

	refresh        *worker.Pool[refreshJob]
	refreshWorkers int
	refreshQueue   int
}

type refreshJob struct {
	req fetch.Request
}

// SetOption configures a Set
type SetOption func(*Set)

// WithLogger sets the strategy logger
func WithLogger(logger *slog.Logger) SetOption {
	return func(s *Set) {
		s.logger = logger
	}
}

// WithMetricsRegistry wires strategy metrics into the framework registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) SetOption {
	return func(s *Set) {
		if registry != nil {
			s.core = registry.CoreMetrics()
		}
	}
}

// WithOfflinePage sets the identity of the pre-cached offline page
func WithOfflinePage(identity string) SetOption {
	return func(s *Set) {
		s.offlineIdentity = identity
	}
}

// WithRefreshPool replaces the default background refresh pool sizing.
// Non-positive values keep the defaults.
func WithRefreshPool(workers, queueSize int) SetOption {
	return func(s *Set) {
		if workers > 0 {
			s.refreshWorkers = workers
		}
		if queueSize > 0 {
			s.refreshQueue = queueSize
		}
	}
}

// NewSet creates the strategy set. Start must be called before background
// refreshes run; strategies work without Start but skip refreshes.
func NewSet(handle HandleProvider, fetcher fetch.Fetcher, opts ...SetOption) *Set {
	s := &Set{
		handle:         handle,
		fetcher:        fetcher,
		logger:         slog.Default(),
		refreshWorkers: 2,
		refreshQueue:   64,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.refresh = worker.NewPool(s.refreshWorkers, s.refreshQueue, s.processRefresh)
	return s
}

// Start launches the detached background refresh workers. The given context
// governs refresh work, not any individual request: cancelling a request
// never cancels a refresh already scheduled on its behalf.
func (s *Set) Start(ctx context.Context) error {
	return s.refresh.Start(ctx)
}

// Stop drains the refresh pool.
func (s *Set) Stop(timeout time.Duration) error {
	return s.refresh.Stop(timeout)
}

// CacheFirst returns the cached entry immediately when present and schedules
// a detached refresh for future requests. On miss it falls through to the
// network synchronously.
func (s *Set) CacheFirst(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	if entry, ok := s.handle().Match(req.Identity()); ok {
		s.scheduleRefresh(req)
		return entryResponse(entry), nil
	}
	return s.NetworkFallback(ctx, req)
}

// NetworkFirst attempts the network with no artificial timeout; on network
// failure it serves the cached entry if present, else a synthetic 503.
func (s *Set) NetworkFirst(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	resp, err := s.fetcher.Fetch(ctx, req)
	if err == nil {
		s.putOpportunistic(req.Identity(), resp)
		return resp, nil
	}

	if entry, ok := s.handle().Match(req.Identity()); ok {
		return entryResponse(entry), nil
	}
	return Unavailable(), nil
}

// Navigation is network-first with two fallbacks: the cached page for the
// exact identity, then the pre-cached offline page. Navigations always
// resolve to something renderable.
func (s *Set) Navigation(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	resp, err := s.fetcher.Fetch(ctx, req)
	if err == nil {
		s.putOpportunistic(req.Identity(), resp)
		return resp, nil
	}

	handle := s.handle()
	if entry, ok := handle.Match(req.Identity()); ok {
		return entryResponse(entry), nil
	}
	if s.offlineIdentity != "" {
		if entry, ok := handle.Match(s.offlineIdentity); ok {
			return entryResponse(entry), nil
		}
	}
	return Unavailable(), nil
}

// Image is cache-first; on total miss (cache miss and network failure) it
// serves the placeholder graphic so image failures never break layout.
func (s *Set) Image(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	if entry, ok := s.handle().Match(req.Identity()); ok {
		return entryResponse(entry), nil
	}

	resp, err := s.fetcher.Fetch(ctx, req)
	if err == nil {
		s.putOpportunistic(req.Identity(), resp)
		return resp, nil
	}
	return Placeholder(), nil
}

// NetworkFallback fetches from the network, storing successful responses; on
// network failure it answers with a synthetic 503.
func (s *Set) NetworkFallback(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return Unavailable(), nil
	}
	s.putOpportunistic(req.Identity(), resp)
	return resp, nil
}

// putOpportunistic stores a cache-eligible response, logging and swallowing
// failures: caching is an optimization here, not a correctness requirement.
func (s *Set) putOpportunistic(identity string, resp *fetch.Response) {
	if !resp.OK() {
		return
	}
	err := s.handle().Put(identity, cachestore.Entry{
		Status:  resp.Status,
		Headers: resp.Headers,
		Body:    resp.Body,
	})
	if err != nil {
		s.logger.Warn("opportunistic cache write failed", "identity", identity, "error", err)
	}
}

// scheduleRefresh submits a fire-and-forget network refresh. A full queue
// drops the refresh; the cached entry keeps serving.
func (s *Set) scheduleRefresh(req fetch.Request) {
	if err := s.refresh.Submit(refreshJob{req: req}); err != nil {
		s.logger.Debug("background refresh skipped", "identity", req.Identity(), "reason", err)
	}
}

// processRefresh runs on the pool's context, detached from the request that
// triggered it. Failures are logged and discarded; the refresh exists for
// the benefit of future requests only.
func (s *Set) processRefresh(ctx context.Context, job refreshJob) error {
	resp, err := s.fetcher.Fetch(ctx, job.req)
	if err != nil {
		s.logger.Debug("background refresh failed", "identity", job.req.Identity(), "error", err)
		if s.core != nil {
			s.core.BackgroundRefreshes.WithLabelValues("error").Inc()
		}
		return err
	}
	if !resp.OK() {
		if s.core != nil {
			s.core.BackgroundRefreshes.WithLabelValues("not_cacheable").Inc()
		}
		return nil
	}

	s.putOpportunistic(job.req.Identity(), resp)
	if s.core != nil {
		s.core.BackgroundRefreshes.WithLabelValues("success").Inc()
	}
	return nil
}

func entryResponse(entry *cachestore.Entry) *fetch.Response {
	return &fetch.Response{
		Status:  entry.Status,
		Headers: entry.Headers,
		Body:    entry.Body,
	}
}
