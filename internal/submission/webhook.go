package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/model"
)

// WebhookDispatcher delivers submit-time webhook callouts. Failures are
// reported to the caller but never retried: webhook delivery is best-effort
// and the submission outcome records the failure instead.
type WebhookDispatcher struct {
	client      *http.Client
	maxBodySize int64
}

// NewWebhookDispatcher creates a dispatcher with the configured timeout
// and response body cap.
func NewWebhookDispatcher(cfg config.WebhookDispatchConfig) *WebhookDispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &WebhookDispatcher{
		client:      &http.Client{Timeout: timeout},
		maxBodySize: maxBody,
	}
}

// Dispatch sends one webhook. The payload is the hook's custom payload when
// set, otherwise a JSON object assembled from the opted-in sections.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, hook model.Webhook, modalID string, values map[string]any, rc *model.RequestContext) error {
	body, err := buildWebhookBody(hook, modalID, values, rc)
	if err != nil {
		return err
	}

	method := string(hook.Method)
	if method == "" {
		method = http.MethodPost
	}
	method = strings.ToUpper(method)
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("webhook %s: unsupported method %q", hook.ID, method)
	}

	req, err := http.NewRequestWithContext(ctx, method, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: build request: %w", hook.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if rc != nil && rc.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", rc.CorrelationID)
	}
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", hook.ID, err)
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, d.maxBodySize)) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s: received status %d", hook.ID, resp.StatusCode)
	}
	return nil
}

func buildWebhookBody(hook model.Webhook, modalID string, values map[string]any, rc *model.RequestContext) ([]byte, error) {
	if hook.CustomPayload != "" {
		if !json.Valid([]byte(hook.CustomPayload)) {
			return nil, fmt.Errorf("webhook %s: custom payload is not valid JSON", hook.ID)
		}
		return []byte(hook.CustomPayload), nil
	}

	payload := map[string]any{
		"modal_id":     modalID,
		"submitted_at": time.Now().UTC().Format(time.RFC3339),
	}
	if hook.IncludeFormData {
		payload["form_data"] = values
	}
	if hook.IncludeContext && rc != nil {
		payload["context"] = map[string]any{
			"subject_id":     rc.SubjectID,
			"email":          rc.Email,
			"tenant_id":      rc.TenantID,
			"correlation_id": rc.CorrelationID,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: marshal payload: %w", hook.ID, err)
	}
	return body, nil
}
