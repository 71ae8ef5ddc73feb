package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/h5p-web/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// h5p metrics
	uploadBytes         prometheus.Histogram
	uploadRejectedTotal *prometheus.CounterVec
	exportTotal         *prometheus.CounterVec
	cacheUpdateTotal    *prometheus.CounterVec
	cacheBreakerState   *prometheus.GaugeVec
	lifecycleState      prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800, 268435456},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "h5p_upload_bytes",
			Help:    "Total multipart upload size per accepted request",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 11), // 1KiB .. 1GiB
		}),
		uploadRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "h5p_upload_rejected_total",
			Help: "Multipart uploads rejected before reaching a handler, by reason",
		}, []string{"reason"}),
		exportTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "h5p_exports_total",
			Help: "Content exports by kind (html, h5p) and result",
		}, []string{"kind", "result"}),
		cacheUpdateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "h5p_content_type_cache_updates_total",
			Help: "Content type cache refreshes from the hub by result",
		}, []string{"result"}),
		cacheBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "h5p_hub_breaker_state",
			Help: "Hub circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		lifecycleState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifecycle_state",
			Help: "Process lifecycle state (0 uninitialized, 1 configuring, 2 serving, 3 terminating)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.errorsTotal,
		m.profilingActive,
		m.uploadBytes,
		m.uploadRejectedTotal,
		m.exportTotal,
		m.cacheUpdateTotal,
		m.cacheBreakerState,
		m.lifecycleState,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHTTPPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// ObserveUpload records the size of an accepted multipart request.
func (m *ServerMetrics) ObserveUpload(bytes int64) {
	m.uploadBytes.Observe(float64(bytes))
}

func (m *ServerMetrics) IncUploadRejected(reason string) {
	m.uploadRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) IncExport(kind, result string) {
	m.exportTotal.WithLabelValues(kind, result).Inc()
}

func (m *ServerMetrics) IncContentTypeCacheUpdate(result string) {
	m.cacheUpdateTotal.WithLabelValues(result).Inc()
}

// SetContentTypeCacheBreakerState takes the gobreaker state name.
func (m *ServerMetrics) SetContentTypeCacheBreakerState(name, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.cacheBreakerState.WithLabelValues(name).Set(v)
}

// SetLifecycleState takes the numeric lifecycle state.
func (m *ServerMetrics) SetLifecycleState(state int) {
	m.lifecycleState.Set(float64(state))
}
