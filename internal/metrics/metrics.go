// Package metrics exposes the Invoker Engine's Prometheus collectors:
// snapshot-cache occupancy, per-core hot-pool occupancy and in-flight
// counts, work-queue depth, and dispatch outcome/latency — the
// observable surface of invariants I2 and I4 (§8's "boundary behaviors").
//
// Grounded on nova/internal/metrics/prometheus.go's PrometheusMetrics
// collector set, trimmed to the gauges/counters/histograms relevant to
// this engine's cache/pool/queue/dispatch components per SPEC_FULL.md;
// nova's dual JSON-dashboard store, autoscaling, admission-control, and
// circuit-breaker collectors have no corresponding component here (the
// core has no autoscaler, admission controller, or circuit breaker) and
// are dropped rather than carried over unused.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors is the registered set of Ignis Prometheus metrics.
type Collectors struct {
	registry *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	snapshotCacheSize prometheus.Gauge
	hotPoolSize       *prometheus.GaugeVec
	inFlight          *prometheus.GaugeVec
	queueDepth        prometheus.Gauge
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var current *Collectors

// InitPrometheus registers the Ignis collectors under namespace and
// returns them. Safe to call once at daemon startup.
func InitPrometheus(namespace string, buckets []float64) *Collectors {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &Collectors{
		registry: registry,

		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Total dispatch decisions by core, path (hot/warm/cold), and outcome.",
		}, []string{"core", "path", "status"}),

		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_ms",
			Help:      "init_time_ms + run_time_ms for each completed dispatch, by path.",
			Buckets:   buckets,
		}, []string{"path"}),

		snapshotCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_size",
			Help:      "Current Snapshot Cache occupancy (bounded by SNAP_CAP).",
		}),

		hotPoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hot_pool_size",
			Help:      "Current Hot-Instance Pool occupancy per core (bounded by HOT_CAP).",
		}, []string{"core"}),

		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Current in-flight request count per core (bounded by CONCUR_CAP).",
		}, []string{"core"}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current Work Queue depth.",
		}),
	}

	registry.MustRegister(
		c.dispatchTotal,
		c.dispatchDuration,
		c.snapshotCacheSize,
		c.hotPoolSize,
		c.inFlight,
		c.queueDepth,
	)

	current = c
	return c
}

// Handler serves the registered collectors for scraping. c must be the
// value InitPrometheus returned; a nil c panics.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordDispatch records one completed dispatch's path and outcome. A
// no-op before InitPrometheus runs, so callers (the dispatcher) never
// need to guard on whether metrics are enabled.
func RecordDispatch(coreID int, path string, success bool, durationMs int64) {
	if current == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	current.dispatchTotal.WithLabelValues(strconv.Itoa(coreID), path, status).Inc()
	current.dispatchDuration.WithLabelValues(path).Observe(float64(durationMs))
}

// SetSnapshotCacheSize updates the Snapshot Cache occupancy gauge.
func SetSnapshotCacheSize(n int) {
	if current == nil {
		return
	}
	current.snapshotCacheSize.Set(float64(n))
}

// SetHotPoolSize updates one core's Hot-Instance Pool occupancy gauge.
func SetHotPoolSize(coreID, n int) {
	if current == nil {
		return
	}
	current.hotPoolSize.WithLabelValues(strconv.Itoa(coreID)).Set(float64(n))
}

// SetInFlight updates one core's in-flight gauge.
func SetInFlight(coreID int, n int32) {
	if current == nil {
		return
	}
	current.inFlight.WithLabelValues(strconv.Itoa(coreID)).Set(float64(n))
}

// SetQueueDepth updates the Work Queue depth gauge.
func SetQueueDepth(n int) {
	if current == nil {
		return
	}
	current.queueDepth.Set(float64(n))
}
