package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricKey is a strongly typed metric identifier.
type MetricKey string

// Metric keys (centralized)
const (
	// Store
	StoreSetsTotal        MetricKey = "store_sets_total"
	StoreGetsTotal        MetricKey = "store_gets_total"
	StoreHitsTotal        MetricKey = "store_hits_total"
	StoreMissesTotal      MetricKey = "store_misses_total"
	StoreLazyExpiredTotal MetricKey = "store_lazy_expired_total"
	StoreDeletesTotal     MetricKey = "store_deletes_total"
	StoreExpiresTotal     MetricKey = "store_expires_total"
	StoreFlushesTotal     MetricKey = "store_flushes_total"

	// Reaper
	ReaperRunsTotal        MetricKey = "reaper_runs_total"
	ReaperKeysRemovedTotal MetricKey = "reaper_keys_removed_total"
	ReaperFailuresTotal    MetricKey = "reaper_failures_total"

	// Backend
	BackendProbeFailuresTotal MetricKey = "backend_probe_failures_total"
	BackendUnhealthy          MetricKey = "backend_unhealthy"
)

const namespace = "ttlkv"

// Registry stores all metrics in a private Prometheus registry.
type Registry struct {
	mu       sync.RWMutex
	reg      *prometheus.Registry
	counters map[MetricKey]prometheus.Counter
	gauges   map[MetricKey]prometheus.Gauge
}

// NewRegistry creates a metrics registry with Go runtime and process
// collectors already attached.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:      reg,
		counters: make(map[MetricKey]prometheus.Counter),
		gauges:   make(map[MetricKey]prometheus.Gauge),
	}
}

// Inc increments a counter by 1.
func (r *Registry) Inc(key MetricKey) {
	r.Add(key, 1)
}

// Add increments a counter by delta. Counters only go up; negative deltas
// are ignored.
func (r *Registry) Add(key MetricKey, delta int64) {
	if delta < 0 {
		return
	}
	r.counter(key).Add(float64(delta))
}

// Set stores the current value of a gauge.
func (r *Registry) Set(key MetricKey, value int64) {
	r.gauge(key).Set(float64(value))
}

// Prometheus exposes the underlying registry so other instrumentation
// (the OpenTelemetry exporter) can publish into the same endpoint.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) counter(key MetricKey) prometheus.Counter {
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}

	// Slow path: metric not yet initialized
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if c, ok = r.counters[key]; ok {
		return c
	}

	c = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      string(key),
		Help:      "ttlkv counter " + string(key),
	})
	// Registration only fails on name clashes; the collector still counts
	// and shows up in Snapshot.
	_ = r.reg.Register(c)
	r.counters[key] = c
	return c
}

func (r *Registry) gauge(key MetricKey) prometheus.Gauge {
	r.mu.RLock()
	g, ok := r.gauges[key]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok = r.gauges[key]; ok {
		return g
	}

	g = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      string(key),
		Help:      "ttlkv gauge " + string(key),
	})
	_ = r.reg.Register(g)
	r.gauges[key] = g
	return g
}
