package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	platformDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets         = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Submission metrics
	SubmissionsTotal        *prometheus.CounterVec
	SubmissionDuration      *prometheus.HistogramVec
	SubmissionInputFailures *prometheus.CounterVec
	EffectFailuresTotal     *prometheus.CounterVec

	// Validation metrics
	ValidationRunsTotal *prometheus.CounterVec

	// Preview metrics
	PreviewSessionsStartedTotal prometheus.Counter
	PreviewSessionsActive       prometheus.Gauge

	// Platform client metrics
	PlatformRequestsTotal       *prometheus.CounterVec
	PlatformRequestDuration     prometheus.Histogram
	PlatformCircuitBreakerState prometheus.Gauge
	PlatformRetriesTotal        prometheus.Counter

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	LookupCacheHitsTotal       *prometheus.CounterVec
	LookupCacheMissesTotal     *prometheus.CounterVec

	// System metrics
	ModalsCached     prometheus.Gauge
	SchemaLoadsTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbff_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formbff_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formbff_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formbff_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Submissions
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbff_submissions_total",
			Help: "Total number of form submissions by outcome.",
		}, []string{"modal_id", "status"}),
		SubmissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formbff_submission_duration_seconds",
			Help:    "Submission pipeline duration in seconds.",
			Buckets: platformDurationBuckets,
		}, []string{"modal_id"}),
		SubmissionInputFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbff_submission_input_failures_total",
			Help: "Total number of submissions rejected by input validation.",
		}, []string{"modal_id"}),
		EffectFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbff_effect_failures_total",
			Help: "Total number of failed submission side effects.",
		}, []string{"kind"}),

		// Validation
		ValidationRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbff_validation_runs_total",
			Help: "Total number of config validation runs by outcome.",
		}, []string{"outcome"}),

		// Preview
		PreviewSessionsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formbff_preview_sessions_started_total",
			Help: "Total number of preview sessions started.",
		}),
		PreviewSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formbff_preview_sessions_active",
			Help: "Number of live preview sessions.",
		}),

		// Platform client
		PlatformRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbff_platform_requests_total",
			Help: "Total number of platform backend requests.",
		}, []string{"method", "status"}),
		PlatformRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "formbff_platform_request_duration_seconds",
			Help:    "Platform request duration in seconds.",
			Buckets: platformDurationBuckets,
		}),
		PlatformCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formbff_platform_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		PlatformRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formbff_platform_retries_total",
			Help: "Total number of platform request retries.",
		}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formbff_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formbff_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
		LookupCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbff_lookup_cache_hits_total",
			Help: "Total lookup cache hits.",
		}, []string{"entity"}),
		LookupCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbff_lookup_cache_misses_total",
			Help: "Total lookup cache misses.",
		}, []string{"entity"}),

		// System
		ModalsCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formbff_modals_cached",
			Help: "Number of modal configurations held in the registry cache.",
		}),
		SchemaLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formbff_schema_loads_total",
			Help: "Total platform schema (OpenAPI) loads.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Submissions
		m.SubmissionsTotal,
		m.SubmissionDuration,
		m.SubmissionInputFailures,
		m.EffectFailuresTotal,
		// Validation
		m.ValidationRunsTotal,
		// Preview
		m.PreviewSessionsStartedTotal,
		m.PreviewSessionsActive,
		// Platform
		m.PlatformRequestsTotal,
		m.PlatformRequestDuration,
		m.PlatformCircuitBreakerState,
		m.PlatformRetriesTotal,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.LookupCacheHitsTotal,
		m.LookupCacheMissesTotal,
		// System
		m.ModalsCached,
		m.SchemaLoadsTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSubmission records a completed submission pipeline run.
func (m *Metrics) RecordSubmission(modalID, status string, duration time.Duration) {
	m.SubmissionsTotal.WithLabelValues(modalID, status).Inc()
	m.SubmissionDuration.WithLabelValues(modalID).Observe(duration.Seconds())
}

// RecordSubmissionInputFailure records a submission rejected by input checks.
func (m *Metrics) RecordSubmissionInputFailure(modalID string) {
	m.SubmissionInputFailures.WithLabelValues(modalID).Inc()
}

// RecordEffectFailure records a failed submission side effect.
func (m *Metrics) RecordEffectFailure(kind string) {
	m.EffectFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordValidationRun records a config validation run.
func (m *Metrics) RecordValidationRun(valid bool) {
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	m.ValidationRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordPreviewSessionStarted records a new preview session.
func (m *Metrics) RecordPreviewSessionStarted() {
	m.PreviewSessionsStartedTotal.Inc()
	m.PreviewSessionsActive.Inc()
}

// RecordPreviewSessionEnded records a preview session ending.
func (m *Metrics) RecordPreviewSessionEnded() {
	m.PreviewSessionsActive.Dec()
}

// RecordPlatformRequest records a platform backend request.
func (m *Metrics) RecordPlatformRequest(method string, status int, duration time.Duration) {
	m.PlatformRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.PlatformRequestDuration.Observe(duration.Seconds())
}

// SetPlatformCircuitBreakerState sets the breaker state gauge.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetPlatformCircuitBreakerState(state float64) {
	m.PlatformCircuitBreakerState.Set(state)
}

// RecordPlatformRetry records a platform request retry.
func (m *Metrics) RecordPlatformRetry() {
	m.PlatformRetriesTotal.Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordLookupCacheHit records a lookup cache hit.
func (m *Metrics) RecordLookupCacheHit(entity string) {
	m.LookupCacheHitsTotal.WithLabelValues(entity).Inc()
}

// RecordLookupCacheMiss records a lookup cache miss.
func (m *Metrics) RecordLookupCacheMiss(entity string) {
	m.LookupCacheMissesTotal.WithLabelValues(entity).Inc()
}

// SetModalsCached sets the registry cache size gauge.
func (m *Metrics) SetModalsCached(count float64) {
	m.ModalsCached.Set(count)
}

// RecordSchemaLoad records a platform schema load attempt.
func (m *Metrics) RecordSchemaLoad(status string) {
	m.SchemaLoadsTotal.WithLabelValues(status).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
