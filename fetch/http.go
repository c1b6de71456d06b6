package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/c360/offlinekit/errors"
)

// Fetcher reaches the remote origin on behalf of a strategy.
//
// A nil error with a non-200 Response means the origin answered with an
// error page; the response is handed back to the caller but is not
// cache-eligible. A non-nil error means the network itself failed.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// HTTPFetcher is the production Fetcher backed by net/http.
type HTTPFetcher struct {
	client *http.Client
}

// HTTPOption configures an HTTPFetcher
type HTTPOption func(*HTTPFetcher)

// WithTimeout sets a fixed timeout on origin requests. The default is no
// artificial timeout: network calls wait for the transport's own failure
// signal.
func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client.Timeout = d
	}
}

// WithClient replaces the underlying HTTP client entirely.
func WithClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

// NewHTTPFetcher creates a Fetcher backed by net/http.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs the origin request.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, errors.WrapInvalid(err, "HTTPFetcher", "Fetch", "build request")
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, errors.WrapTransient(err, "HTTPFetcher", "Fetch", "origin request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "HTTPFetcher", "Fetch", "read body")
	}

	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    data,
	}, nil
}
