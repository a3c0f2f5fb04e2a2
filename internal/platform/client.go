// Package platform is the typed HTTP client for the low-code platform
// backend: entity records, file storage, transactional email, and LLM
// invocation all go through it, behind one circuit breaker and retry
// policy.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/model"
)

// Client calls the platform's REST API. All methods are safe for
// concurrent use.
type Client struct {
	cfg     config.PlatformConfig
	apiKey  string
	client  *http.Client
	breaker *CircuitBreaker
	metrics Metrics
}

// Metrics receives client instrumentation. Satisfied by
// *observability.Metrics; a nil Metrics disables recording.
type Metrics interface {
	RecordPlatformRequest(method string, status int, duration time.Duration)
	RecordPlatformRetry()
	SetPlatformCircuitBreakerState(state float64)
}

// ListQuery narrows an entity listing.
type ListQuery struct {
	Page     int
	PageSize int
	Sort     string
	Search   string
	Filter   map[string]string
}

// FileRef identifies an uploaded file on the platform.
type FileRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// EmailRequest is a transactional email sent through the platform.
type EmailRequest struct {
	To       string `json:"to"`
	FromName string `json:"from_name,omitempty"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// LLMRequest invokes the platform's LLM endpoint.
type LLMRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

// LLMResponse is the platform's LLM output.
type LLMResponse struct {
	Output string `json:"output"`
}

// NewClient creates a platform client. The API key is read from the
// environment variable the config names.
func NewClient(cfg config.PlatformConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		cfg:    cfg,
		apiKey: os.Getenv(cfg.APIKeyEnv),
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
	}
}

// Breaker exposes the circuit breaker for readiness reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// SetMetrics attaches instrumentation. Call before the client serves
// traffic; the field is not synchronized.
func (c *Client) SetMetrics(m Metrics) {
	c.metrics = m
}

// ListRecords returns one page of an entity's records.
func (c *Client) ListRecords(ctx context.Context, rc *model.RequestContext, entity string, q ListQuery) (model.RecordPage, error) {
	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Search != "" {
		params.Set("q", q.Search)
	}
	for k, v := range q.Filter {
		params.Set("filter."+k, v)
	}

	path := "/api/data/" + url.PathEscape(entity)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page model.RecordPage
	status, body, err := c.do(ctx, rc, http.MethodGet, path, nil)
	if err != nil {
		return model.RecordPage{}, err
	}
	if status == http.StatusNotFound {
		return model.RecordPage{}, model.NewNotFoundError(fmt.Sprintf("entity %q not found", entity))
	}
	if status >= 400 {
		return model.RecordPage{}, statusError(status, body)
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return model.RecordPage{}, fmt.Errorf("platform: decoding %s listing: %w", entity, err)
	}
	if q.Page > 0 {
		page.Page = q.Page
	}
	if q.PageSize > 0 {
		page.PageSize = q.PageSize
	}
	return page, nil
}

// GetRecord returns a single record by ID.
func (c *Client) GetRecord(ctx context.Context, rc *model.RequestContext, entity, id string) (map[string]any, error) {
	path := "/api/data/" + url.PathEscape(entity) + "/" + url.PathEscape(id)
	status, body, err := c.do(ctx, rc, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", entity, id))
	}
	if status >= 400 {
		return nil, statusError(status, body)
	}

	var record map[string]any
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("platform: decoding %s record: %w", entity, err)
	}
	return record, nil
}

// CreateRecord inserts a record and returns the assigned ID.
func (c *Client) CreateRecord(ctx context.Context, rc *model.RequestContext, entity string, payload map[string]any) (string, error) {
	path := "/api/data/" + url.PathEscape(entity)
	status, body, err := c.do(ctx, rc, http.MethodPost, path, payload)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", statusError(status, body)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("platform: decoding create response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("platform: create response for %s carried no id", entity)
	}
	return created.ID, nil
}

// UpdateRecord applies a partial update to a record.
func (c *Client) UpdateRecord(ctx context.Context, rc *model.RequestContext, entity, id string, payload map[string]any) error {
	path := "/api/data/" + url.PathEscape(entity) + "/" + url.PathEscape(id)
	status, body, err := c.do(ctx, rc, http.MethodPatch, path, payload)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return model.NewNotFoundError(fmt.Sprintf("%s %q not found", entity, id))
	}
	if status >= 400 {
		return statusError(status, body)
	}
	return nil
}

// DeleteRecord removes a record.
func (c *Client) DeleteRecord(ctx context.Context, rc *model.RequestContext, entity, id string) error {
	path := "/api/data/" + url.PathEscape(entity) + "/" + url.PathEscape(id)
	status, body, err := c.do(ctx, rc, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return model.NewNotFoundError(fmt.Sprintf("%s %q not found", entity, id))
	}
	if status >= 400 {
		return statusError(status, body)
	}
	return nil
}

// UploadFile stores a file on the platform and returns its reference.
func (c *Client) UploadFile(ctx context.Context, rc *model.RequestContext, name string, contentType string, content io.Reader) (FileRef, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return FileRef{}, fmt.Errorf("platform: building upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return FileRef{}, fmt.Errorf("platform: reading upload content: %w", err)
	}
	if contentType != "" {
		_ = mw.WriteField("content_type", contentType)
	}
	if err := mw.Close(); err != nil {
		return FileRef{}, fmt.Errorf("platform: building upload: %w", err)
	}

	// Uploads are not idempotent and can be large; they bypass the JSON
	// retry path and go through the breaker once.
	status, body, err := c.doRaw(ctx, rc, http.MethodPost, "/api/files", mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return FileRef{}, err
	}
	if status >= 400 {
		return FileRef{}, statusError(status, body)
	}

	var ref FileRef
	if err := json.Unmarshal(body, &ref); err != nil {
		return FileRef{}, fmt.Errorf("platform: decoding upload response: %w", err)
	}
	return ref, nil
}

// SendEmail sends a transactional email through the platform.
func (c *Client) SendEmail(ctx context.Context, rc *model.RequestContext, req EmailRequest) error {
	status, body, err := c.do(ctx, rc, http.MethodPost, "/api/email/send", req)
	if err != nil {
		return err
	}
	if status >= 400 {
		return statusError(status, body)
	}
	return nil
}

// InvokeLLM calls the platform's LLM endpoint.
func (c *Client) InvokeLLM(ctx context.Context, rc *model.RequestContext, req LLMRequest) (LLMResponse, error) {
	status, body, err := c.do(ctx, rc, http.MethodPost, "/api/ai/invoke", req)
	if err != nil {
		return LLMResponse{}, err
	}
	if status >= 400 {
		return LLMResponse{}, statusError(status, body)
	}

	var resp LLMResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return LLMResponse{}, fmt.Errorf("platform: decoding llm response: %w", err)
	}
	return resp, nil
}

// FetchSpec downloads the platform's OpenAPI document.
func (c *Client) FetchSpec(ctx context.Context) ([]byte, error) {
	status, body, err := c.do(ctx, nil, http.MethodGet, "/api/openapi.json", nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, statusError(status, body)
	}
	return body, nil
}

// Ping checks platform reachability for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	status, body, err := c.do(ctx, nil, http.MethodGet, "/api/health", nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return statusError(status, body)
	}
	return nil
}

// HealthCheck satisfies the readiness checker interface.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx)
}

// do marshals the payload and executes with retry and backoff.
func (c *Client) do(ctx context.Context, rc *model.RequestContext, method, path string, payload any) (int, []byte, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("platform: marshal request: %w", err)
		}
	}

	retry := c.cfg.Retry
	maxAttempts := retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(method) || !retry.IdempotentOnly

	var lastErr error
	var lastStatus int
	var lastBody []byte

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(backoff(retry, attempt)):
			}
		}

		status, body, err := c.doRaw(ctx, rc, method, path, "application/json", bodyBytes)
		if err != nil {
			lastErr = err
			if !canRetry || !isRetryableError(err) {
				return 0, nil, err
			}
			if c.metrics != nil {
				c.metrics.RecordPlatformRetry()
			}
			slog.Debug("platform: retrying after error",
				"attempt", attempt+1, "max", maxAttempts, "error", err)
			continue
		}

		if isRetryableStatus(status) && canRetry && attempt < maxAttempts-1 {
			lastStatus, lastBody = status, body
			if c.metrics != nil {
				c.metrics.RecordPlatformRetry()
			}
			slog.Debug("platform: retrying after status",
				"attempt", attempt+1, "max", maxAttempts, "status", status)
			continue
		}
		return status, body, nil
	}

	if lastErr != nil {
		return 0, nil, lastErr
	}
	return lastStatus, lastBody, nil
}

// doRaw performs a single HTTP request behind the circuit breaker.
func (c *Client) doRaw(ctx context.Context, rc *model.RequestContext, method, path, contentType string, bodyBytes []byte) (int, []byte, error) {
	if err := c.breaker.Allow(); err != nil {
		c.publishBreakerState()
		return 0, nil, model.NewPlatformUnavailableError()
	}

	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("platform: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyBytes != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+sanitizeHeader(c.apiKey))
	}
	if rc != nil {
		req.Header.Set("X-Tenant-Id", sanitizeHeader(rc.TenantID))
		req.Header.Set("X-Correlation-Id", sanitizeHeader(rc.CorrelationID))
		req.Header.Set("X-Request-Subject", sanitizeHeader(rc.SubjectID))
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.recordRequest(method, 0, time.Since(start))
		if isConnectionError(err) {
			return 0, nil, model.NewPlatformUnavailableError()
		}
		if ctx.Err() != nil || os.IsTimeout(err) {
			return 0, nil, model.NewPlatformTimeoutError()
		}
		return 0, nil, fmt.Errorf("platform: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB limit
	if err != nil {
		c.breaker.RecordFailure()
		c.recordRequest(method, resp.StatusCode, time.Since(start))
		return 0, nil, fmt.Errorf("platform: read response: %w", err)
	}

	// 4xx are caller mistakes, not infrastructure failures; only 5xx
	// count against the breaker.
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else if resp.StatusCode < 400 {
		c.breaker.RecordSuccess()
	}
	c.recordRequest(method, resp.StatusCode, time.Since(start))

	return resp.StatusCode, respBody, nil
}

// recordRequest publishes one request outcome and the resulting breaker
// state. Status 0 marks a request that never produced a response.
func (c *Client) recordRequest(method string, status int, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordPlatformRequest(method, status, elapsed)
	c.publishBreakerState()
}

func (c *Client) publishBreakerState() {
	if c.metrics == nil {
		return
	}
	var state float64
	switch c.breaker.State() {
	case BreakerHalfOpen:
		state = 1
	case BreakerOpen:
		state = 2
	}
	c.metrics.SetPlatformCircuitBreakerState(state)
}

// statusError converts a non-2xx platform response into an error envelope.
func statusError(status int, body []byte) error {
	var remote struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &remote)
	msg := remote.Message
	if msg == "" {
		msg = remote.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return model.NewUnauthorizedError(msg)
	case status == http.StatusForbidden:
		return model.NewForbiddenError(msg)
	case status == http.StatusConflict:
		return model.NewConflictError(msg)
	case status == http.StatusGatewayTimeout:
		return model.NewPlatformTimeoutError()
	case status >= 500:
		return model.NewPlatformUnavailableError()
	default:
		return model.NewBadRequestError(msg)
	}
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Envelope errors (breaker open, platform unavailable) already went
	// through classification; retrying them immediately is pointless.
	var env *model.ErrorEnvelope
	return !errors.As(err, &env)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	maxDelay := cfg.BackoffMax
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > maxDelay {
			return maxDelay
		}
	}
	return delay
}
