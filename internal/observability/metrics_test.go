package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"formbff_http_requests_total",
		"formbff_http_request_duration_seconds",
		"formbff_http_request_size_bytes",
		"formbff_http_response_size_bytes",
		"formbff_submissions_total",
		"formbff_submission_duration_seconds",
		"formbff_submission_input_failures_total",
		"formbff_effect_failures_total",
		"formbff_validation_runs_total",
		"formbff_preview_sessions_started_total",
		"formbff_preview_sessions_active",
		"formbff_platform_requests_total",
		"formbff_platform_request_duration_seconds",
		"formbff_platform_circuit_breaker_state",
		"formbff_platform_retries_total",
		"formbff_capability_cache_hits_total",
		"formbff_capability_cache_misses_total",
		"formbff_lookup_cache_hits_total",
		"formbff_lookup_cache_misses_total",
		"formbff_modals_cached",
		"formbff_schema_loads_total",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordSubmission("modal-1", "completed", time.Millisecond)
	m.RecordSubmissionInputFailure("modal-1")
	m.RecordEffectFailure("webhook")
	m.RecordValidationRun(true)
	m.RecordPreviewSessionStarted()
	m.RecordPlatformRequest("POST", 201, time.Millisecond)
	m.SetPlatformCircuitBreakerState(0)
	m.RecordPlatformRetry()
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.RecordLookupCacheHit("agencies")
	m.RecordLookupCacheMiss("agencies")
	m.SetModalsCached(5)
	m.RecordSchemaLoad("success")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/api/modals/{modalId}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/api/modals/{modalId}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/api/modals/{modalId}/submissions", 500, 200*time.Millisecond, 512, 256)

	// Verify counter values.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/modals/{modalId}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/modals/{modalId}/submissions", "500"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordSubmission(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSubmission("intake-modal", "completed", 150*time.Millisecond)
	m.RecordSubmission("intake-modal", "rejected", 50*time.Millisecond)

	completed := testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("intake-modal", "completed"))
	if completed != 1 {
		t.Errorf("completed count = %v, want 1", completed)
	}
	rejected := testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("intake-modal", "rejected"))
	if rejected != 1 {
		t.Errorf("rejected count = %v, want 1", rejected)
	}

	count := testutil.CollectAndCount(m.SubmissionDuration)
	if count == 0 {
		t.Error("expected submission duration histogram to have observations")
	}
}

func TestRecordSubmissionInputFailure(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSubmissionInputFailure("intake-modal")
	m.RecordSubmissionInputFailure("intake-modal")

	val := testutil.ToFloat64(m.SubmissionInputFailures.WithLabelValues("intake-modal"))
	if val != 2 {
		t.Errorf("input failures = %v, want 2", val)
	}
}

func TestRecordEffectFailure(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordEffectFailure("webhook")
	m.RecordEffectFailure("webhook")
	m.RecordEffectFailure("email")

	webhooks := testutil.ToFloat64(m.EffectFailuresTotal.WithLabelValues("webhook"))
	if webhooks != 2 {
		t.Errorf("webhook failures = %v, want 2", webhooks)
	}
	emails := testutil.ToFloat64(m.EffectFailuresTotal.WithLabelValues("email"))
	if emails != 1 {
		t.Errorf("email failures = %v, want 1", emails)
	}
}

func TestRecordValidationRun(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordValidationRun(true)
	m.RecordValidationRun(true)
	m.RecordValidationRun(false)

	valid := testutil.ToFloat64(m.ValidationRunsTotal.WithLabelValues("valid"))
	if valid != 2 {
		t.Errorf("valid runs = %v, want 2", valid)
	}
	invalid := testutil.ToFloat64(m.ValidationRunsTotal.WithLabelValues("invalid"))
	if invalid != 1 {
		t.Errorf("invalid runs = %v, want 1", invalid)
	}
}

func TestRecordPreviewSessionLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordPreviewSessionStarted()
	m.RecordPreviewSessionStarted()
	active := testutil.ToFloat64(m.PreviewSessionsActive)
	if active != 2 {
		t.Errorf("active sessions = %v, want 2", active)
	}

	m.RecordPreviewSessionEnded()
	active = testutil.ToFloat64(m.PreviewSessionsActive)
	if active != 1 {
		t.Errorf("active sessions after end = %v, want 1", active)
	}

	started := testutil.ToFloat64(m.PreviewSessionsStartedTotal)
	if started != 2 {
		t.Errorf("started total = %v, want 2", started)
	}
}

func TestRecordPlatformRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordPlatformRequest("POST", 201, 100*time.Millisecond)

	val := testutil.ToFloat64(m.PlatformRequestsTotal.WithLabelValues("POST", "201"))
	if val != 1 {
		t.Errorf("platform requests = %v, want 1", val)
	}
}

func TestSetPlatformCircuitBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetPlatformCircuitBreakerState(0)
	val := testutil.ToFloat64(m.PlatformCircuitBreakerState)
	if val != 0 {
		t.Errorf("circuit breaker state = %v, want 0 (closed)", val)
	}

	m.SetPlatformCircuitBreakerState(2)
	val = testutil.ToFloat64(m.PlatformCircuitBreakerState)
	if val != 2 {
		t.Errorf("circuit breaker state = %v, want 2 (open)", val)
	}
}

func TestRecordPlatformRetry(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordPlatformRetry()
	m.RecordPlatformRetry()
	val := testutil.ToFloat64(m.PlatformRetriesTotal)
	if val != 2 {
		t.Errorf("retries = %v, want 2", val)
	}
}

func TestRecordCapabilityCache(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()

	hits := testutil.ToFloat64(m.CapabilityCacheHitsTotal)
	if hits != 2 {
		t.Errorf("cache hits = %v, want 2", hits)
	}
	misses := testutil.ToFloat64(m.CapabilityCacheMissesTotal)
	if misses != 1 {
		t.Errorf("cache misses = %v, want 1", misses)
	}
}

func TestRecordLookupCache(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordLookupCacheHit("agencies")
	m.RecordLookupCacheMiss("agencies")

	hits := testutil.ToFloat64(m.LookupCacheHitsTotal.WithLabelValues("agencies"))
	if hits != 1 {
		t.Errorf("lookup hits = %v, want 1", hits)
	}
	misses := testutil.ToFloat64(m.LookupCacheMissesTotal.WithLabelValues("agencies"))
	if misses != 1 {
		t.Errorf("lookup misses = %v, want 1", misses)
	}
}

func TestSetModalsCached(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetModalsCached(5)
	val := testutil.ToFloat64(m.ModalsCached)
	if val != 5 {
		t.Errorf("modals cached = %v, want 5", val)
	}

	m.SetModalsCached(10)
	val = testutil.ToFloat64(m.ModalsCached)
	if val != 10 {
		t.Errorf("modals cached = %v, want 10", val)
	}
}

func TestRecordSchemaLoad(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSchemaLoad("success")
	m.RecordSchemaLoad("failure")

	success := testutil.ToFloat64(m.SchemaLoadsTotal.WithLabelValues("success"))
	if success != 1 {
		t.Errorf("load success = %v, want 1", success)
	}
	failure := testutil.ToFloat64(m.SchemaLoadsTotal.WithLabelValues("failure"))
	if failure != 1 {
		t.Errorf("load failure = %v, want 1", failure)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/modals/{modalId}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/modals/intake", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/modals/{modalId}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Response size should have been recorded.
	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/api/modals/{modalId}/submissions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/modals/intake/submissions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/modals/{modalId}/submissions", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	// Verify bucket configurations are correct.
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(platformDurationBuckets) != 9 {
		t.Errorf("platformDurationBuckets length = %d, want 9", len(platformDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}
