// Package signal connects the cache layer to its NATS signal bus.
//
// Subjects, under a configurable prefix (default "offlinekit"):
//
//	<prefix>.sync.<tag>            connectivity returned, drain the tag
//	<prefix>.control.skipwaiting   activate the waiting version now
//	<prefix>.control.warm          request/reply, pre-fetch URLs into cache
//
// Message handling is split from transport: the parsing and dispatch
// helpers take raw subjects and payloads so they test without a broker.
package signal

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/metric"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "offlinekit"

// SyncHandler runs when a sync signal arrives for a tag.
type SyncHandler func(ctx context.Context, tag string)

// SkipWaitingHandler runs when a skip-waiting control message arrives.
type SkipWaitingHandler func(ctx context.Context)

// WarmHandler pre-fetches the given URLs and reports per-URL results.
type WarmHandler func(ctx context.Context, urls []string) []WarmResult

// WarmRequest is the JSON payload of a warm control message.
type WarmRequest struct {
	URLs []string `json:"urls"`
}

// WarmResult reports the outcome of warming one URL.
type WarmResult struct {
	URL   string `json:"url"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// WarmReply is the JSON reply to a warm control message.
type WarmReply struct {
	Results []WarmResult `json:"results"`
}

// Bus owns the NATS connection and the layer's subscriptions.
type Bus struct {
	url    string
	prefix string
	name   string
	logger *slog.Logger
	core   *metric.Metrics

	reconnectWait time.Duration

	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the bus logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithMetricsRegistry wires signal metrics into the framework registry
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(b *Bus) {
		if registry != nil {
			b.core = registry.CoreMetrics()
		}
	}
}

// WithSubjectPrefix overrides the default subject prefix
func WithSubjectPrefix(prefix string) Option {
	return func(b *Bus) {
		if strings.TrimSpace(prefix) != "" {
			b.prefix = prefix
		}
	}
}

// WithClientName sets the NATS connection name
func WithClientName(name string) Option {
	return func(b *Bus) {
		b.name = name
	}
}

// NewBus creates a bus for the given NATS URL. Connect must be called
// before subscribing.
func NewBus(url string, opts ...Option) (*Bus, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bus", "NewBus", "nats url required")
	}

	b := &Bus{
		url:           url,
		prefix:        DefaultSubjectPrefix,
		name:          "offlinekit",
		logger:        slog.Default(),
		reconnectWait: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Connect establishes the NATS connection. Reconnection is unbounded: the
// bus carries connectivity signals, so it must outlive outages itself.
func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bus", "Connect", "already connected")
	}

	conn, err := nats.Connect(b.url,
		nats.Name(b.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(b.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.logger.Warn("signal bus disconnected", "error", err)
			b.setConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("signal bus reconnected", "url", nc.ConnectedUrl())
			b.setConnected(true)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.logger.Info("signal bus connection closed")
			b.setConnected(false)
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "Bus", "Connect", "connect to nats")
	}

	b.conn = conn
	b.setConnected(true)
	b.logger.Info("signal bus connected", "url", conn.ConnectedUrl(), "prefix", b.prefix)
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}

	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	b.subs = nil

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	b.conn = nil
	b.setConnected(false)
	return nil
}

// SubscribeSync listens for sync signals under <prefix>.sync and invokes the
// handler with the tag extracted from the subject.
func (b *Bus) SubscribeSync(ctx context.Context, handler SyncHandler) error {
	if handler == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bus", "SubscribeSync", "handler required")
	}

	subject := syncSubscribeSubject(b.prefix)
	return b.subscribe(subject, func(msg *nats.Msg) {
		tag, ok := syncTag(b.prefix, msg.Subject)
		if !ok {
			b.logger.Warn("sync signal with no tag", "subject", msg.Subject)
			return
		}
		b.countSignal("sync")
		handler(ctx, tag)
	})
}

// SubscribeControl listens for skip-waiting and warm control messages. Warm
// messages are request/reply; the reply carries per-URL results as JSON.
func (b *Bus) SubscribeControl(ctx context.Context, skip SkipWaitingHandler, warm WarmHandler) error {
	if skip == nil || warm == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bus", "SubscribeControl", "handlers required")
	}

	err := b.subscribe(b.prefix+".control.skipwaiting", func(_ *nats.Msg) {
		b.countSignal("skipwaiting")
		skip(ctx)
	})
	if err != nil {
		return err
	}

	return b.subscribe(b.prefix+".control.warm", func(msg *nats.Msg) {
		b.countSignal("warm")
		reply := warmReply(ctx, warm, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			b.logger.Warn("warm reply failed", "error", err)
		}
	})
}

// PublishSync emits a sync signal for a tag, nudging every listener to
// drain it.
func (b *Bus) PublishSync(tag string) error {
	if strings.TrimSpace(tag) == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Bus", "PublishSync", "tag required")
	}

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "Bus", "PublishSync", "not connected")
	}

	subject := b.prefix + ".sync." + tag
	if err := conn.Publish(subject, nil); err != nil {
		return errors.WrapTransient(err, "Bus", "PublishSync", "publish sync signal")
	}
	return nil
}

func (b *Bus) subscribe(subject string, fn nats.MsgHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "Bus", "subscribe", "not connected")
	}

	sub, err := b.conn.Subscribe(subject, fn)
	if err != nil {
		return errors.WrapTransient(err, "Bus", "subscribe", "subscribe "+subject)
	}
	b.subs = append(b.subs, sub)
	b.logger.Debug("subscribed", "subject", subject)
	return nil
}

func (b *Bus) setConnected(up bool) {
	if b.core == nil {
		return
	}
	if up {
		b.core.SignalConnected.Set(1)
	} else {
		b.core.SignalConnected.Set(0)
	}
}

func (b *Bus) countSignal(kind string) {
	if b.core != nil {
		b.core.SignalsReceived.WithLabelValues(kind).Inc()
	}
}

// syncSubscribeSubject is the wildcard subject matching every sync signal
// under the prefix. The ">" wildcard spans multiple tokens so dotted tags
// like "forms.contact" are delivered too.
func syncSubscribeSubject(prefix string) string {
	return prefix + ".sync.>"
}

// syncTag extracts the sync tag from a subject like "<prefix>.sync.<tag>".
// Tags may contain dots; everything after the sync token is the tag.
func syncTag(prefix, subject string) (string, bool) {
	want := prefix + ".sync."
	if !strings.HasPrefix(subject, want) {
		return "", false
	}
	tag := subject[len(want):]
	if tag == "" {
		return "", false
	}
	return tag, true
}

// warmReply parses a warm request, runs the handler and encodes the reply.
// Malformed requests get an empty result set rather than silence so the
// requester is never left waiting.
func warmReply(ctx context.Context, warm WarmHandler, data []byte) []byte {
	var req WarmRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			out, _ := json.Marshal(WarmReply{Results: []WarmResult{}})
			return out
		}
	}

	results := warm(ctx, req.URLs)
	if results == nil {
		results = []WarmResult{}
	}
	out, err := json.Marshal(WarmReply{Results: results})
	if err != nil {
		return []byte(`{"results":[]}`)
	}
	return out
}
