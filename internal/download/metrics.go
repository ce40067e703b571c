package download

import (
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instrumentation for an Engine. Each Engine
// owns its own Metrics so multiple engines (e.g. one for crate downloads,
// one for rustup artifacts) never collide on registration.
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	bytes     prometheus.Counter
	duration  prometheus.Histogram
	retries   prometheus.Counter
	inflight  prometheus.Gauge
	processed *prometheus.CounterVec
}

// NewMetrics builds and registers a fresh metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "crates_download_requests_total", Help: "Download attempts by status and HTTP code"},
			[]string{"status", "code"},
		),
		bytes:    prometheus.NewCounter(prometheus.CounterOpts{Name: "crates_download_bytes_total", Help: "Total bytes downloaded"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "crates_download_duration_seconds", Help: "Time spent per download attempt", Buckets: prometheus.DefBuckets}),
		retries:  prometheus.NewCounter(prometheus.CounterOpts{Name: "crates_download_retries_total", Help: "Total retry attempts"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{Name: "crates_download_inflight", Help: "In-flight HTTP requests"}),
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "crates_processed_total", Help: "Processed downloads by result"},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.requests, m.bytes, m.duration, m.retries, m.inflight, m.processed)
	return m
}

// Registry exposes the underlying Prometheus registry, e.g. to merge with
// other collectors (index commits, publish counts) before serving /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Serve starts a metrics+pprof HTTP server on addr. It returns immediately;
// the listener runs in a background goroutine.
func Serve(addr string, registries ...*prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	if len(registries) == 0 {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		gatherers := make(prometheus.Gatherers, len(registries))
		for i, r := range registries {
			gatherers[i] = r
		}
		mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}
