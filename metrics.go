package nanoweb

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the server's Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "nanoweb").
	Namespace string

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is where the collectors are registered.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

// WithBuckets sets the request duration buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) { c.Buckets = buckets }
}

// WithRegistry sets the Prometheus registerer.
func WithRegistry(reg prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = reg }
}

// Metrics are the per-connection counters the server records. A nil *Metrics
// records nothing.
type Metrics struct {
	connections prometheus.Counter
	active      prometheus.Gauge
	requests    *prometheus.CounterVec
	duration    prometheus.Histogram
	upgrades    prometheus.Counter
	dropped     prometheus.Counter
}

// NewMetrics registers the server collectors.
//
// Metrics collected:
//   - nanoweb_connections_total: accepted connections
//   - nanoweb_active_connections: connections currently being served
//   - nanoweb_requests_total: answered requests by status code
//   - nanoweb_request_duration_seconds: time from accept to close
//   - nanoweb_upgrades_total: connections that completed an upgrade
//   - nanoweb_dropped_total: connections closed without a response
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{
		Namespace: "nanoweb",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "active_connections",
			Help:      "Number of connections currently being served",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "requests_total",
			Help:      "Total number of answered requests by status code",
		}, []string{"status"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Connection service time in seconds",
			Buckets:   cfg.Buckets,
		}),
		upgrades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "upgrades_total",
			Help:      "Total number of connections that completed an upgrade",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "dropped_total",
			Help:      "Total number of connections closed without a response",
		}),
	}
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.active.Inc()
}

func (m *Metrics) connClosed(start time.Time) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) request(status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) upgrade() {
	if m == nil {
		return
	}
	m.upgrades.Inc()
}

func (m *Metrics) drop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
