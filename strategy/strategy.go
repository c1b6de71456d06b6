// Package strategy classifies intercepted requests and satisfies each one
// with exactly one fetch strategy combining cache and network.
//
// Navigations always attempt a fresh fetch before any cached fallback;
// static assets serve from cache and refresh in the background.
package strategy

// Kind selects the algorithm used to satisfy a request.
type Kind int

const (
	// KindPassThrough forwards the request untouched (unmatched cross-origin)
	KindPassThrough Kind = iota
	// KindCacheFirst serves from cache with a detached background refresh
	KindCacheFirst
	// KindNetworkFirst tries the network and falls back to cache
	KindNetworkFirst
	// KindNavigation is network-first with an offline-page fallback
	KindNavigation
	// KindImage is cache-first with a placeholder-image fallback
	KindImage
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindPassThrough:
		return "pass_through"
	case KindCacheFirst:
		return "cache_first"
	case KindNetworkFirst:
		return "network_first"
	case KindNavigation:
		return "navigation"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}
