// Package integration provides a reusable test harness for end-to-end
// integration testing of the formbff server. It starts a full HTTP server
// backed by a mock platform, in-memory stores, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/proposehq/formbff/internal/assist"
	"github.com/proposehq/formbff/internal/capability"
	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/internal/lookup"
	"github.com/proposehq/formbff/internal/modal"
	"github.com/proposehq/formbff/internal/observability"
	"github.com/proposehq/formbff/internal/platform"
	"github.com/proposehq/formbff/internal/platform/entityindex"
	"github.com/proposehq/formbff/internal/preview"
	"github.com/proposehq/formbff/internal/records"
	"github.com/proposehq/formbff/internal/rules"
	"github.com/proposehq/formbff/internal/submission"
	"github.com/proposehq/formbff/internal/transport"
)

// TestHarness encapsulates a fully wired formbff instance with a mock
// platform backend for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Platform    *mockPlatform
	Client      *platform.Client
	Index       *entityindex.Index
	Modals      *modal.Service
	Log         *submission.MemoryLog
	Idempotency *submission.MemoryIdempotencyStore
	Metrics     *observability.Metrics

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	policyFile       string
	handlerTimeout   time.Duration
	retryAttempts    int
	breakerThreshold int
	assistEnabled    bool
}

// WithPolicyFile sets the static policy YAML file for capability resolution.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithRetryAttempts sets the total platform request attempts.
func WithRetryAttempts(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.retryAttempts = n
	}
}

// WithBreakerThreshold sets the consecutive-failure count that opens the
// platform circuit breaker.
func WithBreakerThreshold(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.breakerThreshold = n
	}
}

// WithAssistDisabled turns the AI suggestion endpoint off.
func WithAssistDisabled() HarnessOption {
	return func(c *harnessConfig) {
		c.assistEnabled = false
	}
}

// NewTestHarness creates and starts a full formbff test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout:   10 * time.Second,
		retryAttempts:    1,
		breakerThreshold: 100,
		assistEnabled:    true,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(testdataDir(), "policies.yaml")
	}

	h := &TestHarness{t: t}

	// Per-harness registry so parallel tests never collide on collectors.
	h.Metrics = observability.InitMetrics(prometheus.NewRegistry())

	// Mock platform backend and the real HTTP client in front of it.
	h.Platform = newMockPlatform(t)

	platformCfg := config.PlatformConfig{
		BaseURL: h.Platform.URL(),
		Timeout: 5 * time.Second,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: hc.breakerThreshold,
			SuccessThreshold: 1,
			Timeout:          time.Minute,
		},
		Retry: config.RetryConfig{
			MaxAttempts:       hc.retryAttempts,
			BackoffInitial:    time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        5 * time.Millisecond,
			IdempotentOnly:    true,
		},
	}
	h.Client = platform.NewClient(platformCfg)
	h.Client.SetMetrics(h.Metrics)

	// Entity index from the mock platform's served spec, same path the
	// server takes at startup.
	h.Index = entityindex.NewIndex()
	specData, err := h.Client.FetchSpec(context.Background())
	if err != nil {
		t.Fatalf("fetch platform spec: %v", err)
	}
	if err := h.Index.LoadData(specData); err != nil {
		t.Fatalf("load platform spec: %v", err)
	}

	// Domain services.
	validator := modal.NewValidator(h.Index)
	modals := modal.NewService(h.Client, validator, config.ModalsConfig{})
	modals.SetMetrics(h.Metrics)
	h.Modals = modals

	evaluator := rules.Evaluator{}
	previews := preview.NewManager(preview.NewMemorySessionStore(), preview.NewProjector(evaluator))
	previews.SetMetrics(h.Metrics)

	h.Log = submission.NewMemoryLog()
	h.Idempotency = submission.NewMemoryIdempotencyStore()
	executor := submission.NewExecutor(submission.Deps{
		Platform:    h.Client,
		Webhooks:    submission.NewWebhookDispatcher(config.WebhookDispatchConfig{Timeout: 5 * time.Second}),
		Log:         h.Log,
		Idempotency: h.Idempotency,
		Validator:   validator,
		Evaluator:   evaluator,
		IdemTTL:     time.Hour,
		Metrics:     h.Metrics,
	})

	recordSvc := records.NewService(h.Client, config.RecordsConfig{
		DefaultPageSize: 25,
		MaxPageSize:     200,
	})
	lookups := lookup.NewProvider(h.Client, config.LookupCacheConfig{
		Cache: config.CacheConfig{TTL: time.Minute, MaxEntries: 100},
	})
	lookups.SetMetrics(h.Metrics)
	assistSvc := assist.NewService(h.Client, config.AssistConfig{
		Enabled: hc.assistEnabled,
		Timeout: 5 * time.Second,
	})

	// Capability resolution from the static policy file.
	policyEval, err := capability.NewStaticPolicyEvaluator(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	capResolver := capability.NewResolver(policyEval, 0) // no caching in tests
	capResolver.SetMetrics(h.Metrics)

	// JWT issuer and verification.
	h.issuer = newTokenIssuer(t)

	h.cfg = &config.Config{
		Server: config.ServerConfig{
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			HandlerTimeout: hc.handlerTimeout,
			CORS: config.CORSConfig{
				AllowedOrigins: []string{"http://localhost:3000"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: config.IdentityConfig{
			Issuer:     h.issuer.Issuer(),
			Audience:   h.issuer.Audience(),
			JWKSURL:    h.issuer.JWKSURL(),
			Algorithms: []string{"RS256"},
		},
	}

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour)

	schemaLoaded := len(h.Index.EntityNames()) > 0
	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Authenticate:       transport.JWTAuthenticator(h.cfg.Identity, jwks),
		CapabilityResolver: capResolver,
		Modals:             modals,
		Preview:            previews,
		Submissions:        executor,
		SubmissionLog:      h.Log,
		Records:            recordSvc,
		Lookups:            lookups,
		Assist:             assistSvc,
		Metrics:            h.Metrics,
		Ready: observability.HandleReady(observability.ReadinessChecks{
			SchemaLoaded: func() bool { return schemaLoaded },
			Platform:     h.Client,
		}),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PATCH", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// ErrorCode reads an error envelope body and returns its code.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	h.ParseJSON(resp, &envelope)
	return envelope.Error.Code
}

// --- Default test claims ---

// ViewerClaims returns TestClaims for a proposal_viewer user.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-viewer",
		TenantID:  "acme-gov",
		Email:     "viewer@acme.example.com",
		Roles:     []string{"proposal_viewer"},
	}
}

// BuilderClaims returns TestClaims for a modal_builder user.
func BuilderClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-builder",
		TenantID:  "acme-gov",
		Email:     "builder@acme.example.com",
		Roles:     []string{"modal_builder"},
	}
}

// SubmitterClaims returns TestClaims for a proposal_submitter user.
func SubmitterClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-submitter",
		TenantID:  "acme-gov",
		Email:     "submitter@acme.example.com",
		Roles:     []string{"proposal_submitter"},
	}
}

// AdminClaims returns TestClaims for a workspace_admin user.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		TenantID:  "acme-gov",
		Email:     "admin@acme.example.com",
		Roles:     []string{"workspace_admin"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
