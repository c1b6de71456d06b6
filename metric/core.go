package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not request-specific)
type Metrics struct {
	// Lifecycle metrics
	LifecyclePhase prometheus.Gauge

	// Request routing metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits            *prometheus.CounterVec
	CacheMisses          *prometheus.CounterVec
	CachePuts            prometheus.Counter
	CacheVersionsDeleted prometheus.Counter
	BackgroundRefreshes  *prometheus.CounterVec

	// Offline queue metrics
	QueueDepth    *prometheus.GaugeVec
	QueueEnqueued *prometheus.CounterVec
	ReplaysTotal  *prometheus.CounterVec

	// Signal bus metrics
	SignalConnected prometheus.Gauge
	SignalsReceived *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		LifecyclePhase: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "offlinekit",
				Subsystem: "lifecycle",
				Name:      "phase",
				Help:      "Lifecycle phase (0=created, 1=installing, 2=waiting, 3=activating, 4=active, 5=failed)",
			},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "offlinekit",
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total number of intercepted requests",
			},
			[]string{"strategy", "outcome"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "offlinekit",
				Subsystem: "requests",
				Name:      "duration_seconds",
				Help:      "Time to resolve an intercepted request",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "offlinekit",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"layer"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "offlinekit",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"layer"},
		),

		CachePuts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "offlinekit",
				Subsystem: "cache",
				Name:      "puts_total",
				Help:      "Total number of cache entry writes",
			},
		),

		CacheVersionsDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "offlinekit",
				Subsystem: "cache",
				Name:      "versions_deleted_total",
				Help:      "Total number of stale cache versions deleted during activation",
			},
		),

		BackgroundRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "offlinekit",
				Subsystem: "cache",
				Name:      "background_refreshes_total",
				Help:      "Total number of detached background refresh attempts",
			},
			[]string{"outcome"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "offlinekit",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Current number of queued mutations per sync tag",
			},
			[]string{"tag"},
		),

		QueueEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "offlinekit",
				Subsystem: "queue",
				Name:      "enqueued_total",
				Help:      "Total number of mutations enqueued for later replay",
			},
			[]string{"tag"},
		),

		ReplaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "offlinekit",
				Subsystem: "sync",
				Name:      "replays_total",
				Help:      "Total number of replay attempts during synchronization passes",
			},
			[]string{"tag", "outcome"},
		),

		SignalConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "offlinekit",
				Subsystem: "signal",
				Name:      "connected",
				Help:      "Signal bus connection status (1=connected, 0=disconnected)",
			},
		),

		SignalsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "offlinekit",
				Subsystem: "signal",
				Name:      "received_total",
				Help:      "Total number of external signals received",
			},
			[]string{"kind"},
		),
	}
}
