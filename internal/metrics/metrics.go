// Package metrics exposes the orchestrator's run counters as Prometheus
// collectors, served behind an optional --metrics-addr flag exactly as
// cmd/cie/index.go serves its own metrics endpoint (SPEC_FULL.md §DOMAIN
// STACK). This is an ambient concern carried regardless of the spec's
// own non-goals (it never excludes observability).
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector a run reports into, each an ordinary
// Prometheus metric registered against its own registry so test code
// doesn't collide with the global one.
type Registry struct {
	reg *prometheus.Registry

	RepoDuration      *prometheus.HistogramVec
	BuildCacheHits    prometheus.Counter
	BuildCacheMisses  prometheus.Counter
	PluginsByState    *prometheus.GaugeVec
	MergeGroupCount   prometheus.Gauge
	OutputFileCount   prometheus.Gauge
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		RepoDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rsplug_repo_duration_seconds",
			Help:    "Duration of per-plugin repo cache operations (resolve+fetch+checkout).",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		BuildCacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rsplug_build_cache_hits_total",
			Help: "Build hook invocations short-circuited by an existing .ok marker.",
		}),
		BuildCacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rsplug_build_cache_misses_total",
			Help: "Build hook invocations that ran a subprocess.",
		}),
		PluginsByState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "rsplug_plugins_total",
			Help: "Plugin count at the end of the most recent run, by terminal state.",
		}, []string{"state"}),
		MergeGroupCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rsplug_merge_groups",
			Help: "Number of MergeGroups produced by the most recent run.",
		}),
		OutputFileCount: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rsplug_output_files",
			Help: "Number of files written to the output tree by the most recent run.",
		}),
	}
	return r
}

// ObserveRepoDuration records how long a repo cache stage took.
func (r *Registry) ObserveRepoDuration(stage string, d time.Duration) {
	r.RepoDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Serve starts the /metrics HTTP endpoint in the background and returns
// the server so the caller can shut it down, mirroring the
// goroutine-plus-ListenAndServe pattern in cmd/cie/index.go.
func (r *Registry) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()

	return srv
}

// Shutdown stops the metrics server, honoring ctx's deadline.
func (r *Registry) Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
