// Package cachestore provides durable, versioned storage of cached responses
// with atomic whole-entry writes and all-or-nothing install population.
//
// Each cache version owns a bbolt bucket; exactly one version is current per
// process lifetime. Reads go through a bounded in-memory front cache and
// fall back to bbolt on miss, mirroring a hybrid memory/durable layout.
package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/fetch"
	"github.com/c360/offlinekit/metric"
)

// Store is the durable response cache. It is shared across all concurrent
// requests; writes are last-writer-wins with no cross-entry locking.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
	front  *frontCache
	core   *metric.Metrics

	// Statistics (atomic, always on)
	hits   int64
	misses int64
	puts   int64
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for swallowed storage errors
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetricsRegistry wires cache metrics into the framework registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Store) {
		if registry != nil {
			s.core = registry.CoreMetrics()
		}
	}
}

// WithFrontCacheSize bounds the in-memory front cache. Zero disables it and
// every read goes straight to bbolt.
func WithFrontCacheSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.front = newFrontCache(n)
		} else {
			s.front = nil
		}
	}
}

const defaultFrontCacheSize = 512

// Open opens (or creates) the cache database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Store", "Open", "storage path required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "Open", "open cache db")
	}

	store := &Store{
		db:     db,
		logger: slog.Default(),
		front:  newFrontCache(defaultFrontCacheSize),
	}
	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OpenVersion opens the storage namespace for a cache version, creating it
// if absent. Idempotent; never fails for a non-empty version string.
func (s *Store) OpenVersion(version string) (*Handle, error) {
	if strings.TrimSpace(version) == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Store", "OpenVersion", "version required")
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(version))
		return err
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "OpenVersion",
			fmt.Sprintf("create bucket for %s", version))
	}

	return &Handle{store: s, version: version}, nil
}

// Versions enumerates all known cache versions.
func (s *Store) Versions() ([]string, error) {
	var versions []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			versions = append(versions, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Versions", "enumerate buckets")
	}
	return versions, nil
}

// DeleteVersionsExcept removes every stored version not equal to current.
// Activation is not complete until this has run to completion.
func (s *Store) DeleteVersionsExcept(current string) error {
	var stale []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if string(name) != current {
				stale = append(stale, string(name))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, name := range stale {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return fmt.Errorf("delete version %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "Store", "DeleteVersionsExcept", "delete stale versions")
	}

	for _, name := range stale {
		if s.front != nil {
			s.front.invalidateVersion(name)
		}
		if s.core != nil {
			s.core.CacheVersionsDeleted.Inc()
		}
		s.logger.Info("deleted stale cache version", "version", name)
	}
	return nil
}

// DeleteVersion removes one version's bucket and all its entries.
// Idempotent: deleting an unknown version is a no-op.
func (s *Store) DeleteVersion(version string) error {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(version)) == nil {
			return nil
		}
		existed = true
		return tx.DeleteBucket([]byte(version))
	})
	if err != nil {
		return errors.WrapTransient(err, "Store", "DeleteVersion",
			fmt.Sprintf("delete version %s", version))
	}
	if !existed {
		return nil
	}

	if s.front != nil {
		s.front.invalidateVersion(version)
	}
	if s.core != nil {
		s.core.CacheVersionsDeleted.Inc()
	}
	s.logger.Info("deleted cache version", "version", version)
	return nil
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Puts   int64 `json:"puts"`
}

// Stats returns a snapshot of the always-on cache statistics.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&s.hits),
		Misses: atomic.LoadInt64(&s.misses),
		Puts:   atomic.LoadInt64(&s.puts),
	}
}

// Handle addresses one version's namespace within the store.
type Handle struct {
	store   *Store
	version string
}

// Version returns the cache version this handle addresses.
func (h *Handle) Version() string {
	return h.version
}

// Put stores an entry with overwrite semantics; last writer wins, no merge.
// The whole entry is written in one transaction so partial writes are never
// observable.
func (h *Handle) Put(identity string, entry Entry) error {
	if identity == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Handle", "Put", "identity required")
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(&entry)
	if err != nil {
		return errors.WrapInvalid(err, "Handle", "Put", "marshal entry")
	}

	err = h.store.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.version))
		if bucket == nil {
			return errors.ErrVersionNotFound
		}
		return bucket.Put([]byte(identity), payload)
	})
	if err != nil {
		return errors.WrapTransient(err, "Handle", "Put", fmt.Sprintf("store %s", identity))
	}

	if h.store.front != nil {
		h.store.front.set(h.version, identity, entry.Clone())
	}
	atomic.AddInt64(&h.store.puts, 1)
	if h.store.core != nil {
		h.store.core.CachePuts.Inc()
	}
	return nil
}

// Match performs an exact-match lookup. Storage errors are logged and
// reported as a miss: reading the cache is an optimization, not a
// correctness requirement.
func (h *Handle) Match(identity string) (*Entry, bool) {
	if h.store.front != nil {
		if entry, ok := h.store.front.get(h.version, identity); ok {
			atomic.AddInt64(&h.store.hits, 1)
			if h.store.core != nil {
				h.store.core.CacheHits.WithLabelValues("memory").Inc()
			}
			return entry.Clone(), true
		}
	}

	var entry *Entry
	err := h.store.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.version))
		if bucket == nil {
			return errors.ErrVersionNotFound
		}
		payload := bucket.Get([]byte(identity))
		if payload == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(payload, entry)
	})
	if err != nil {
		h.store.logger.Warn("cache read failed", "identity", identity, "error", err)
		entry = nil
	}

	if entry == nil {
		atomic.AddInt64(&h.store.misses, 1)
		if h.store.core != nil {
			h.store.core.CacheMisses.WithLabelValues("durable").Inc()
		}
		return nil, false
	}

	atomic.AddInt64(&h.store.hits, 1)
	if h.store.core != nil {
		h.store.core.CacheHits.WithLabelValues("durable").Inc()
	}
	if h.store.front != nil {
		h.store.front.set(h.version, identity, entry.Clone())
	}
	return entry, true
}

// AddAll fetches every given URL and stores the responses under their GET
// identities. Population is all-or-nothing: if any fetch fails or answers
// with a non-200 status, nothing is written and the install step fails.
func (h *Handle) AddAll(ctx context.Context, fetcher fetch.Fetcher, urls []string) error {
	type staged struct {
		identity string
		entry    Entry
	}

	entries := make([]staged, 0, len(urls))
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return errors.WrapTransient(err, "Handle", "AddAll", "context cancelled")
		}

		req := fetch.Request{Method: "GET", URL: url}
		resp, err := fetcher.Fetch(ctx, req)
		if err != nil {
			return errors.WrapFatal(
				fmt.Errorf("%w: %s: %v", errors.ErrInstallFailed, url, err),
				"Handle", "AddAll", "fetch critical resource")
		}
		if !resp.OK() {
			return errors.WrapFatal(
				fmt.Errorf("%w: %s: status %d", errors.ErrInstallFailed, url, resp.Status),
				"Handle", "AddAll", "critical resource not cacheable")
		}

		entries = append(entries, staged{
			identity: req.Identity(),
			entry: Entry{
				Status:   resp.Status,
				Headers:  resp.Headers,
				Body:     resp.Body,
				StoredAt: time.Now().UTC(),
			},
		})
	}

	// Single transaction: either every critical resource lands or none do.
	err := h.store.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.version))
		if bucket == nil {
			return errors.ErrVersionNotFound
		}
		for i := range entries {
			payload, err := json.Marshal(&entries[i].entry)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", entries[i].identity, err)
			}
			if err := bucket.Put([]byte(entries[i].identity), payload); err != nil {
				return fmt.Errorf("store %s: %w", entries[i].identity, err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrInstallFailed, err),
			"Handle", "AddAll", "persist critical resources")
	}

	for i := range entries {
		if h.store.front != nil {
			h.store.front.set(h.version, entries[i].identity, entries[i].entry.Clone())
		}
		atomic.AddInt64(&h.store.puts, 1)
		if h.store.core != nil {
			h.store.core.CachePuts.Inc()
		}
	}
	return nil
}
