package submission

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/model"
)

func testDispatcher() *WebhookDispatcher {
	return NewWebhookDispatcher(config.WebhookDispatchConfig{
		Timeout:     2 * time.Second,
		MaxBodySize: 1 << 20,
	})
}

func TestDispatchIncludesOptedInSections(t *testing.T) {
	var (
		gotMethod  string
		gotHeader  string
		gotPayload map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Signature")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotPayload); err != nil {
			t.Errorf("body is not JSON: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := model.Webhook{
		ID:              "w1",
		URL:             srv.URL,
		Method:          model.WebhookPut,
		Headers:         map[string]string{"X-Signature": "sig-1"},
		IncludeFormData: true,
		IncludeContext:  true,
		Enabled:         true,
	}
	rc := &model.RequestContext{SubjectID: "user-1", TenantID: "tenant-a", CorrelationID: "corr-2"}

	err := testDispatcher().Dispatch(context.Background(), hook, "m1", map[string]any{"company": "Acme"}, rc)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotHeader != "sig-1" {
		t.Errorf("custom header not sent, got %q", gotHeader)
	}
	if gotPayload["modal_id"] != "m1" {
		t.Errorf("modal_id = %v", gotPayload["modal_id"])
	}
	form, _ := gotPayload["form_data"].(map[string]any)
	if form["company"] != "Acme" {
		t.Errorf("form_data missing, payload: %#v", gotPayload)
	}
	rctx, _ := gotPayload["context"].(map[string]any)
	if rctx["tenant_id"] != "tenant-a" || rctx["subject_id"] != "user-1" {
		t.Errorf("context missing, payload: %#v", gotPayload)
	}
}

func TestDispatchOmitsSectionsByDefault(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotPayload) //nolint:errcheck
	}))
	defer srv.Close()

	hook := model.Webhook{ID: "w1", URL: srv.URL, Enabled: true}
	err := testDispatcher().Dispatch(context.Background(), hook, "m1", map[string]any{"secret": "x"}, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, ok := gotPayload["form_data"]; ok {
		t.Error("form_data must be opt-in")
	}
	if _, ok := gotPayload["context"]; ok {
		t.Error("context must be opt-in")
	}
}

func TestDispatchCustomPayload(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	hook := model.Webhook{
		ID:            "w1",
		URL:           srv.URL,
		CustomPayload: `{"event":"proposal.submitted"}`,
		Enabled:       true,
	}
	if err := testDispatcher().Dispatch(context.Background(), hook, "m1", nil, nil); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if string(gotBody) != `{"event":"proposal.submitted"}` {
		t.Fatalf("body = %s", gotBody)
	}

	hook.CustomPayload = `{broken`
	if err := testDispatcher().Dispatch(context.Background(), hook, "m1", nil, nil); err == nil {
		t.Fatal("expected error for invalid custom payload")
	}
}

func TestDispatchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook := model.Webhook{ID: "w1", URL: srv.URL, Enabled: true}
	if err := testDispatcher().Dispatch(context.Background(), hook, "m1", nil, nil); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestDispatchRejectsUnsupportedMethod(t *testing.T) {
	hook := model.Webhook{ID: "w1", URL: "http://example.invalid", Method: "DELETE", Enabled: true}
	if err := testDispatcher().Dispatch(context.Background(), hook, "m1", nil, nil); err == nil {
		t.Fatal("expected error for unsupported method")
	}
}
