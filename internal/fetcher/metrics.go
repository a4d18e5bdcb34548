package fetcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/provider-scraper/internal/model"
)

// Metrics collects fetch counters on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
	wait     *prometheus.HistogramVec
}

// NewMetrics creates and registers the fetch metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scraper",
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "HTTP attempts by source kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scraper",
			Subsystem: "fetch",
			Name:      "request_duration_seconds",
			Help:      "HTTP attempt latency by source kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scraper",
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "Retries scheduled by source kind.",
		}, []string{"kind"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scraper",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting on the rate limiter.",
			Buckets:   []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"kind"}),
	}
	m.registry.MustRegister(m.requests, m.duration, m.retries, m.wait)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) observe(kind model.SourceKind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(kind), outcome).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) retry(kind model.SourceKind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) waited(kind model.SourceKind, d time.Duration) {
	if m == nil {
		return
	}
	m.wait.WithLabelValues(string(kind)).Observe(d.Seconds())
}
