package cachestore

import (
	"time"
)

// Entry is one cached response. An entry's body is immutable once stored;
// updates replace the whole entry atomically.
type Entry struct {
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     []byte            `json:"body"`
	StoredAt time.Time         `json:"stored_at"`
}

// Clone returns a deep copy so callers can never mutate a stored body.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	out := &Entry{
		Status:   e.Status,
		StoredAt: e.StoredAt,
	}
	if e.Headers != nil {
		out.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			out.Headers[k] = v
		}
	}
	if e.Body != nil {
		out.Body = make([]byte, len(e.Body))
		copy(out.Body, e.Body)
	}
	return out
}
