// Package metrics exposes Prometheus metrics for the offline cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liftmate/liftmate/internal/events"
	"github.com/liftmate/liftmate/internal/offline"
)

const namespace = "liftmate"

// Metrics holds the cache collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	fetches         *prometheus.CounterVec
	cacheWrites     *prometheus.CounterVec
	lifecycle       *prometheus.CounterVec
	installDuration prometheus.Histogram
	cachedEntries   *prometheus.GaugeVec
}

var _ offline.Recorder = (*Metrics)(nil)

// New creates and registers the cache metrics. Go runtime and process
// collectors are included when withRuntime is true.
func New(withRuntime bool) (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fetch_total",
			Help:      "Intercepted requests by outcome (hit, miss, bypass, network_error, fallback).",
		}, []string{"version", "outcome"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Runtime cache writes by outcome (stored, skipped, failed).",
		}, []string{"version", "outcome"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "lifecycle_events_total",
			Help:      "Worker lifecycle events by kind.",
		}, []string{"kind"}),
		installDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "install_duration_seconds",
			Help:      "Time taken by successful installs.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		cachedEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "manifest_entries",
			Help:      "Entries stored by the last successful install of a version.",
		}, []string{"version"}),
	}

	cs := []prometheus.Collector{m.fetches, m.cacheWrites, m.lifecycle, m.installDuration, m.cachedEntries}
	if withRuntime {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordFetch implements offline.Recorder.
func (m *Metrics) RecordFetch(version, outcome string) {
	m.fetches.WithLabelValues(version, outcome).Inc()
}

// RecordCacheWrite implements offline.Recorder.
func (m *Metrics) RecordCacheWrite(version, outcome string) {
	m.cacheWrites.WithLabelValues(version, outcome).Inc()
}

// HandleEvent is an events.Handler counting lifecycle events.
func (m *Metrics) HandleEvent(event *events.Event) {
	m.lifecycle.WithLabelValues(event.Kind).Inc()

	if event.Kind != events.KindInstallCompleted {
		return
	}
	if ms, ok := number(event.Properties[events.PropertyDuration]); ok {
		m.installDuration.Observe(ms / 1000)
	}
	if n, ok := number(event.Properties[events.PropertyEntries]); ok {
		m.cachedEntries.WithLabelValues(event.Version).Set(n)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
