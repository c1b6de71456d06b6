// Package syncer replays queued mutations once connectivity returns.
//
// A drain pass walks one tag's queue oldest first and replays each item as a
// POST to its recorded endpoint. Success removes the item; failure leaves it
// in place for the next pass and the pass moves on. There is no terminal
// failure state: an item stays queued until a replay succeeds or the caller
// removes it.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/fetch"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/retry"
	"github.com/c360/offlinekit/queue"
)

// State describes a tag's drain status.
type State string

const (
	// StateIdle means no drain pass is running for the tag
	StateIdle State = "idle"
	// StateDraining means a drain pass is replaying the tag's items
	StateDraining State = "draining"
)

// Result summarizes one drain pass.
type Result struct {
	Tag       string
	Attempted int
	Replayed  int
	Failed    int
}

// Coordinator drains offline queues through the origin fetcher. Passes for
// the same tag are serialized; different tags drain independently.
type Coordinator struct {
	queue   *queue.Queue
	fetcher fetch.Fetcher
	logger  *slog.Logger
	core    *metric.Metrics
	retry   retry.Config

	mu   sync.Mutex
	tags map[string]*tagLock
}

type tagLock struct {
	mu       sync.Mutex
	draining atomic.Bool
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the coordinator logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetricsRegistry wires replay metrics into the framework registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(c *Coordinator) {
		if registry != nil {
			c.core = registry.CoreMetrics()
		}
	}
}

// WithRetryConfig overrides replay retry behavior. Extra attempts happen
// inside a single drain pass; the default is one attempt per pass because
// the next sync signal is the natural retry.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Coordinator) {
		c.retry = cfg
	}
}

// NewCoordinator creates a coordinator over the given queue and fetcher.
func NewCoordinator(q *queue.Queue, fetcher fetch.Fetcher, opts ...Option) (*Coordinator, error) {
	if q == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Coordinator", "NewCoordinator", "queue required")
	}
	if fetcher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Coordinator", "NewCoordinator", "fetcher required")
	}

	c := &Coordinator{
		queue:   q,
		fetcher: fetcher,
		logger:  slog.Default(),
		retry:   retry.Config{MaxAttempts: 1},
		tags:    make(map[string]*tagLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State reports whether a drain pass is currently running for the tag.
func (c *Coordinator) State(tag string) State {
	c.mu.Lock()
	lock, ok := c.tags[tag]
	c.mu.Unlock()
	if ok && lock.draining.Load() {
		return StateDraining
	}
	return StateIdle
}

// Sync runs one drain pass for the tag. Concurrent calls for the same tag
// queue up behind the running pass rather than interleaving replays.
func (c *Coordinator) Sync(ctx context.Context, tag string) (Result, error) {
	if strings.TrimSpace(tag) == "" {
		return Result{}, errors.WrapInvalid(errors.ErrInvalidConfig, "Coordinator", "Sync", "tag required")
	}

	lock := c.lockFor(tag)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	lock.draining.Store(true)
	defer lock.draining.Store(false)

	items, err := c.queue.ListAll(tag)
	if err != nil {
		return Result{Tag: tag}, errors.WrapTransient(err, "Coordinator", "Sync", "list queued items")
	}

	result := Result{Tag: tag}
	for _, item := range items {
		if ctx.Err() != nil {
			return result, errors.WrapTransient(ctx.Err(), "Coordinator", "Sync", "drain interrupted")
		}

		result.Attempted++
		if err := c.replay(ctx, item); err != nil {
			result.Failed++
			c.logger.Warn("replay failed, item retained",
				"tag", tag, "id", item.ID, "endpoint", item.Endpoint, "error", err)
			if c.core != nil {
				c.core.ReplaysTotal.WithLabelValues(tag, "failure").Inc()
			}
			continue
		}

		if err := c.queue.Remove(tag, item.ID); err != nil {
			// The POST landed but the item could not be deleted; the next
			// pass will replay it again. At-least-once, never silent loss.
			result.Failed++
			c.logger.Error("replayed item could not be removed",
				"tag", tag, "id", item.ID, "error", err)
			continue
		}

		result.Replayed++
		c.logger.Info("replayed queued mutation", "tag", tag, "id", item.ID, "endpoint", item.Endpoint)
		if c.core != nil {
			c.core.ReplaysTotal.WithLabelValues(tag, "success").Inc()
		}
	}

	return result, nil
}

// SyncAll runs one drain pass for every known tag.
func (c *Coordinator) SyncAll(ctx context.Context) ([]Result, error) {
	tags, err := c.queue.Tags()
	if err != nil {
		return nil, errors.WrapTransient(err, "Coordinator", "SyncAll", "enumerate tags")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  []Result
		firstErr error
	)
	for _, tag := range tags {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			result, err := c.Sync(ctx, tag)
			mu.Lock()
			defer mu.Unlock()
			results = append(results, result)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}(tag)
	}
	wg.Wait()
	return results, firstErr
}

// replay POSTs one item to its endpoint. Responses in the 2xx range count as
// success; a 4xx means the server rejected the payload and retrying inside
// this pass cannot help.
func (c *Coordinator) replay(ctx context.Context, item queue.Item) error {
	req := fetch.Request{
		Method:      "POST",
		URL:         item.Endpoint,
		Mutating:    true,
		Body:        item.Payload,
		ContentType: item.ContentType,
	}

	return retry.Do(ctx, c.retry, func() error {
		resp, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			return errors.WrapTransient(err, "Coordinator", "replay", "post to endpoint")
		}
		if resp.Status >= 200 && resp.Status < 300 {
			return nil
		}
		status := fmt.Errorf("%w: endpoint returned %d", errors.ErrFetchFailed, resp.Status)
		if resp.Status >= 400 && resp.Status < 500 {
			return retry.NonRetryable(status)
		}
		return status
	})
}

func (c *Coordinator) lockFor(tag string) *tagLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.tags[tag]
	if !ok {
		lock = &tagLock{}
		c.tags[tag] = lock
	}
	return lock
}

// WaitIdle blocks until no pass is running for the tag or the timeout
// expires. Test and shutdown helper.
func (c *Coordinator) WaitIdle(tag string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State(tag) == StateIdle {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return c.State(tag) == StateIdle
}
