// Package fetch defines the request/response model at the interception
// boundary and the Fetcher used to reach the remote origin.
//
// Every outbound request from the hosting application is expressed as a
// Request before it reaches the network. The layer may satisfy it from
// cache, from the origin, or with a synthetic Response; the hosting
// application never sees a raw transport error for non-mutating requests.
package fetch

import (
	"fmt"
	"strings"
)

// ResourceType is the declared resource type of an intercepted request.
type ResourceType int

const (
	// ResourceOther covers API calls and anything without a specific type
	ResourceOther ResourceType = iota
	// ResourceNavigation is a top-level document load
	ResourceNavigation
	// ResourceImage is an image load
	ResourceImage
	// ResourceStyle is a stylesheet load
	ResourceStyle
	// ResourceScript is a script load
	ResourceScript
)

// String returns the string representation of ResourceType
func (rt ResourceType) String() string {
	switch rt {
	case ResourceNavigation:
		return "navigation"
	case ResourceImage:
		return "image"
	case ResourceStyle:
		return "style"
	case ResourceScript:
		return "script"
	case ResourceOther:
		return "other"
	default:
		return "unknown"
	}
}

// Request describes one intercepted outbound request.
type Request struct {
	Method string
	URL    string
	Type   ResourceType

	// Mutating marks non-idempotent requests (form submissions). Mutating
	// requests are never cached; on network failure they are queued for
	// later replay instead of being dropped.
	Mutating bool

	// Body and ContentType carry the payload of mutating requests.
	Body        []byte
	ContentType string

	// SyncTag selects the offline queue a failed mutating request joins.
	// Empty means the service default.
	SyncTag string
}

// Identity returns the canonical cache key for the request: method plus
// absolute URL. Mutating requests have no cache identity.
func (r Request) Identity() string {
	return Identity(r.Method, r.URL)
}

// Identity builds a canonical cache key from a method and absolute URL.
func Identity(method, url string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = "GET"
	}
	return fmt.Sprintf("%s %s", m, url)
}

// Response is the resolved result of an intercepted request.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// OK reports whether the response is strictly successful (HTTP 200).
// Only OK responses are cache-eligible; redirects, 4xx and 5xx are returned
// to the caller unmodified but never stored.
func (r *Response) OK() bool {
	return r != nil && r.Status == 200
}

// Header returns a header value, case-insensitively.
func (r *Response) Header(name string) string {
	if r == nil {
		return ""
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
