// Package metrics provides Prometheus metrics for the conversion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a conversion run.
type Metrics struct {
	// Pipeline metrics
	TreesTotal    prometheus.Counter
	GalaxiesTotal prometheus.Counter
	TreeSize      prometheus.Histogram
	TreeLatency   prometheus.Histogram

	// Exporter metrics
	FlushLatency  prometheus.Histogram
	BytesWritten  prometheus.Counter
	BufferedTrees prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with the given namespace.
// Metrics register with the default Prometheus registry, so create at most
// one instance per process.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TreesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trees_total",
			Help:      "Total number of merger trees converted",
		}),
		GalaxiesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "galaxies_total",
			Help:      "Total number of galaxy records converted",
		}),
		TreeSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_size",
			Help:      "Number of galaxies per tree",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000},
		}),
		TreeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tree_latency_seconds",
			Help:      "Per-tree conversion latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),

		FlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_latency_seconds",
			Help:      "Exporter buffer flush latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		BytesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Total bytes written to the output dataset",
		}),
		BufferedTrees: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_trees",
			Help:      "Trees currently buffered in the exporter",
		}),
	}
}

// RecordTree records one converted tree.
func (m *Metrics) RecordTree(galaxies int, duration time.Duration) {
	if m == nil {
		return
	}
	m.TreesTotal.Inc()
	m.GalaxiesTotal.Add(float64(galaxies))
	m.TreeSize.Observe(float64(galaxies))
	m.TreeLatency.Observe(duration.Seconds())
}

// RecordFlush records one exporter buffer flush.
func (m *Metrics) RecordFlush(bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.FlushLatency.Observe(duration.Seconds())
	m.BytesWritten.Add(float64(bytes))
}

// SetBufferedTrees updates the exporter buffer gauge.
func (m *Metrics) SetBufferedTrees(n int) {
	if m == nil {
		return
	}
	m.BufferedTrees.Set(float64(n))
}

// MetricsServer runs an HTTP server exposing /metrics, for watching long
// batch conversions.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address.
func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
