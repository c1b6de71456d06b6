package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/offlinekit/fetch"
)

func newTestRouter(t *testing.T, set *Set, fetcher fetch.Fetcher) *Router {
	t.Helper()
	router, err := NewRouter("https://example.com", []string{"fonts.googleapis.com", "cdn.example.net/assets/"}, set, fetcher)
	require.NoError(t, err)
	return router
}

func TestNewRouter_RejectsRelativeOrigin(t *testing.T) {
	_, err := NewRouter("/not-absolute", nil, nil, &fakeFetcher{})
	assert.Error(t, err)

	_, err = NewRouter("", nil, nil, &fakeFetcher{})
	assert.Error(t, err)
}

func TestRouter_Classify(t *testing.T) {
	router := newTestRouter(t, nil, &fakeFetcher{})

	tests := []struct {
		name string
		req  fetch.Request
		want Kind
	}{
		{
			name: "cross-origin matching pattern is cache-first",
			req:  fetch.Request{URL: "https://fonts.googleapis.com/css?family=Inter"},
			want: KindCacheFirst,
		},
		{
			name: "cross-origin substring pattern is cache-first",
			req:  fetch.Request{URL: "https://cdn.example.net/assets/logo.woff2"},
			want: KindCacheFirst,
		},
		{
			name: "unmatched cross-origin passes through",
			req:  fetch.Request{URL: "https://analytics.example.org/beacon"},
			want: KindPassThrough,
		},
		{
			name: "cross-origin image still passes through",
			req:  fetch.Request{URL: "https://analytics.example.org/pixel.png", Type: fetch.ResourceImage},
			want: KindPassThrough,
		},
		{
			name: "same-origin navigation",
			req:  fetch.Request{URL: "https://example.com/programs", Type: fetch.ResourceNavigation},
			want: KindNavigation,
		},
		{
			name: "same-origin image",
			req:  fetch.Request{URL: "https://example.com/img/hero.png", Type: fetch.ResourceImage},
			want: KindImage,
		},
		{
			name: "same-origin stylesheet is cache-first",
			req:  fetch.Request{URL: "https://example.com/css/main.css", Type: fetch.ResourceStyle},
			want: KindCacheFirst,
		},
		{
			name: "same-origin script is cache-first",
			req:  fetch.Request{URL: "https://example.com/js/app.js", Type: fetch.ResourceScript},
			want: KindCacheFirst,
		},
		{
			name: "same-origin API call is network-first",
			req:  fetch.Request{URL: "https://example.com/data/programs.json"},
			want: KindNetworkFirst,
		},
		{
			name: "relative URL counts as same-origin",
			req:  fetch.Request{URL: "/data/programs.json"},
			want: KindNetworkFirst,
		},
		{
			name: "same host on a different scheme is cross-origin",
			req:  fetch.Request{URL: "http://example.com/data/programs.json"},
			want: KindPassThrough,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, router.Classify(tt.req))
		})
	}
}

func TestRouter_PassThroughPropagatesNetworkError(t *testing.T) {
	router := newTestRouter(t, nil, &fakeFetcher{err: errOffline})

	req := fetch.Request{Method: "GET", URL: "https://analytics.example.org/beacon"}
	resp, err := router.Handle(context.Background(), req)
	assert.ErrorIs(t, err, errOffline, "pass-through never synthesizes a response")
	assert.Nil(t, resp)
}

func TestRouter_PassThroughDoesNotCache(t *testing.T) {
	handle := newTestHandle(t)
	fetcher := &fakeFetcher{responses: map[string]*fetch.Response{
		"https://analytics.example.org/beacon": {Status: 200, Body: []byte("ok")},
	}}
	set := newTestSet(t, handle, fetcher)
	router := newTestRouter(t, set, fetcher)

	req := fetch.Request{Method: "GET", URL: "https://analytics.example.org/beacon"}
	resp, err := router.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	_, ok := handle.Match(req.Identity())
	assert.False(t, ok)
}

func TestRouter_HandleDispatchesByClassification(t *testing.T) {
	handle := newTestHandle(t)
	fetcher := &fakeFetcher{err: errOffline}
	set := newTestSet(t, handle, fetcher)
	router := newTestRouter(t, set, fetcher)

	// Offline image miss goes through the image strategy, so the placeholder
	// proves dispatch reached the right algorithm.
	resp, err := router.Handle(context.Background(), fetch.Request{
		Method: "GET",
		URL:    "https://example.com/img/hero.png",
		Type:   fetch.ResourceImage,
	})
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", resp.Header("Content-Type"))

	// An offline API miss goes through network-first and yields the 503.
	resp, err = router.Handle(context.Background(), fetch.Request{
		Method: "GET",
		URL:    "https://example.com/data/programs.json",
	})
	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status)
}
