// Package queue provides the durable offline mutation queue.
//
// Items are grouped by sync tag and keyed by an auto-incrementing id whose
// big-endian byte order matches insertion order, so a forward cursor walk
// returns items oldest first. Items survive process restarts; an item is
// removed only when its replay succeeded.
package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/metric"
)

// Item is one pending mutating request. Items are never mutated in place:
// created on network failure, deleted on successful replay.
type Item struct {
	ID          uint64    `json:"id"`
	Tag         string    `json:"tag"`
	CreatedAt   time.Time `json:"created_at"`
	Endpoint    string    `json:"endpoint"`
	Payload     []byte    `json:"payload"`
	ContentType string    `json:"content_type"`
}

// Queue is the durable store of pending mutations. It owns all writes;
// the sync coordinator only reads and requests deletion.
type Queue struct {
	db     *bbolt.DB
	logger *slog.Logger
	core   *metric.Metrics
}

// Option configures a Queue
type Option func(*Queue)

// WithLogger sets the queue logger
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithMetricsRegistry wires queue metrics into the framework registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(q *Queue) {
		if registry != nil {
			q.core = registry.CoreMetrics()
		}
	}
}

// Open opens (or creates) the queue database at path.
func Open(path string, opts ...Option) (*Queue, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Queue", "Open", "storage path required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WrapFatal(err, "Queue", "Open", "open queue db")
	}

	q := &Queue{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Enqueue durably stores a failed mutating request for later replay and
// returns its id. Storage failure is surfaced to the caller: silently
// dropping a user's submission is unacceptable.
func (q *Queue) Enqueue(tag, endpoint string, payload []byte, contentType string) (uint64, error) {
	if strings.TrimSpace(tag) == "" {
		return 0, errors.WrapInvalid(errors.ErrInvalidConfig, "Queue", "Enqueue", "tag required")
	}
	if strings.TrimSpace(endpoint) == "" {
		return 0, errors.WrapInvalid(errors.ErrInvalidConfig, "Queue", "Enqueue", "endpoint required")
	}

	var id uint64
	err := q.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(tag))
		if err != nil {
			return err
		}

		id, err = bucket.NextSequence()
		if err != nil {
			return err
		}

		item := Item{
			ID:          id,
			Tag:         tag,
			CreatedAt:   time.Now().UTC(),
			Endpoint:    endpoint,
			Payload:     payload,
			ContentType: contentType,
		}
		data, err := json.Marshal(&item)
		if err != nil {
			return err
		}
		return bucket.Put(itob(id), data)
	})
	if err != nil {
		return 0, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err),
			"Queue", "Enqueue", "persist item")
	}

	q.logger.Info("queued mutation for replay", "tag", tag, "id", id, "endpoint", endpoint)
	if q.core != nil {
		q.core.QueueEnqueued.WithLabelValues(tag).Inc()
		q.updateDepth(tag)
	}
	return id, nil
}

// ListAll returns every item for a tag in insertion order.
func (q *Queue) ListAll(tag string) ([]Item, error) {
	var items []Item
	err := q.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tag))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Queue", "ListAll", fmt.Sprintf("read tag %s", tag))
	}
	return items, nil
}

// Remove deletes an item by id. Idempotent: removing a non-existent id is a
// no-op, not an error.
func (q *Queue) Remove(tag string, id uint64) error {
	err := q.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tag))
		if bucket == nil {
			return nil
		}
		return bucket.Delete(itob(id))
	})
	if err != nil {
		return errors.WrapTransient(err, "Queue", "Remove", fmt.Sprintf("delete %s/%d", tag, id))
	}
	if q.core != nil {
		q.updateDepth(tag)
	}
	return nil
}

// Len returns the number of queued items for a tag.
func (q *Queue) Len(tag string) (int, error) {
	var n int
	err := q.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tag))
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "Queue", "Len", fmt.Sprintf("count tag %s", tag))
	}
	return n, nil
}

// Tags enumerates every sync tag that has (or had) queued items.
func (q *Queue) Tags() ([]string, error) {
	var tags []string
	err := q.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			tags = append(tags, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Queue", "Tags", "enumerate tags")
	}
	return tags, nil
}

func (q *Queue) updateDepth(tag string) {
	if n, err := q.Len(tag); err == nil {
		q.core.QueueDepth.WithLabelValues(tag).Set(float64(n))
	}
}

// itob encodes an id big-endian so key order equals numeric order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
