package strategy

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/fetch"
	"github.com/c360/offlinekit/metric"
)

// Router classifies each intercepted request and invokes exactly one
// strategy. Classification rules, first match wins:
//
//  1. cross-origin and matches a runtime pattern: cache-first
//  2. cross-origin otherwise: pass through untouched
//  3. top-level navigation: navigation strategy
//  4. image: image strategy
//  5. style or script: cache-first
//  6. everything else same-origin: network-first
type Router struct {
	originScheme string
	originHost   string
	patterns     []string
	set          *Set
	fetcher      fetch.Fetcher
	logger       *slog.Logger
	core         *metric.Metrics
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithRouterLogger sets the router logger
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithRouterMetrics wires routing metrics into the framework registry
func WithRouterMetrics(registry *metric.MetricsRegistry) RouterOption {
	return func(r *Router) {
		if registry != nil {
			r.core = registry.CoreMetrics()
		}
	}
}

// NewRouter creates a router for the given application origin. patterns is
// the ordered list of URL-prefix or substring patterns identifying
// cross-origin resources eligible for caching; it is read-only after
// configuration.
func NewRouter(origin string, patterns []string, set *Set, fetcher fetch.Fetcher, opts ...RouterOption) (*Router, error) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Router", "NewRouter",
			"origin must be an absolute URL")
	}

	r := &Router{
		originScheme: parsed.Scheme,
		originHost:   parsed.Host,
		patterns:     patterns,
		set:          set,
		fetcher:      fetcher,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Classify maps a request to the strategy that will satisfy it.
func (r *Router) Classify(req fetch.Request) Kind {
	if !r.sameOrigin(req.URL) {
		if r.matchesPattern(req.URL) {
			return KindCacheFirst
		}
		return KindPassThrough
	}

	switch req.Type {
	case fetch.ResourceNavigation:
		return KindNavigation
	case fetch.ResourceImage:
		return KindImage
	case fetch.ResourceStyle, fetch.ResourceScript:
		return KindCacheFirst
	default:
		return KindNetworkFirst
	}
}

// Handle classifies and dispatches one non-mutating request.
func (r *Router) Handle(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	kind := r.Classify(req)
	start := time.Now()

	var resp *fetch.Response
	var err error

	switch kind {
	case KindPassThrough:
		// Not intercepted: the caller sees exactly what the network said,
		// including transport errors.
		resp, err = r.fetcher.Fetch(ctx, req)
	case KindCacheFirst:
		resp, err = r.set.CacheFirst(ctx, req)
	case KindNavigation:
		resp, err = r.set.Navigation(ctx, req)
	case KindImage:
		resp, err = r.set.Image(ctx, req)
	default:
		resp, err = r.set.NetworkFirst(ctx, req)
	}

	if r.core != nil {
		r.core.RequestDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		outcome := "error"
		if err == nil && resp != nil {
			outcome = statusOutcome(resp.Status)
		}
		r.core.RequestsTotal.WithLabelValues(kind.String(), outcome).Inc()
	}

	return resp, err
}

func (r *Router) sameOrigin(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	// Relative URLs belong to the running application.
	if parsed.Host == "" {
		return true
	}
	return parsed.Scheme == r.originScheme && parsed.Host == r.originHost
}

func (r *Router) matchesPattern(rawURL string) bool {
	for _, pattern := range r.patterns {
		if strings.HasPrefix(rawURL, pattern) || strings.Contains(rawURL, pattern) {
			return true
		}
	}
	return false
}

func statusOutcome(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "ok"
	case status >= 300 && status < 400:
		return "redirect"
	case status >= 400 && status < 500:
		return "client_error"
	default:
		return "server_error"
	}
}
