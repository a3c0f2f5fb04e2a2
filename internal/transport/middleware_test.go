package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/proposehq/formbff/model"
)

func TestBuildRequestContext(t *testing.T) {
	var got *model.RequestContext
	handler := BuildRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = model.RequestContextFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Timezone", "America/New_York")
	req.Header.Set("Accept-Language", "en-US")
	req = req.WithContext(WithClaims(req.Context(), routerClaims()))

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil {
		t.Fatal("request context not built")
	}
	if got.SubjectID != "user-1" || got.TenantID != "tenant-1" || got.Email != "user@example.com" {
		t.Errorf("identity = %s/%s/%s", got.SubjectID, got.TenantID, got.Email)
	}
	if len(got.Roles) != 1 || got.Roles[0] != "builder" {
		t.Errorf("roles = %v, want [builder]", got.Roles)
	}
	if got.Timezone != "America/New_York" || got.Locale != "en-US" {
		t.Errorf("timezone/locale = %s/%s", got.Timezone, got.Locale)
	}
}

func TestBuildRequestContext_noClaims(t *testing.T) {
	var got *model.RequestContext
	handler := BuildRequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = model.RequestContextFrom(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if got == nil {
		t.Fatal("request context should exist even without claims")
	}
	if got.SubjectID != "" || got.TenantID != "" {
		t.Errorf("identity should be empty, got %s/%s", got.SubjectID, got.TenantID)
	}
}

func TestResolveCapabilities_storesSet(t *testing.T) {
	resolver := &stubCapabilityResolver{caps: capSet("modals:view")}

	var got model.CapabilitySet
	handler := BuildRequestContext(ResolveCapabilities(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CapabilitiesFrom(r.Context())
	})))

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(WithClaims(req.Context(), routerClaims()))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !got.Has("modals:view") {
		t.Errorf("capabilities = %v, want modals:view", got)
	}
}

func TestRequireCapability(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})

	run := func(caps model.CapabilitySet) *httptest.ResponseRecorder {
		resolver := &stubCapabilityResolver{caps: caps}
		handler := BuildRequestContext(
			ResolveCapabilities(resolver)(RequireCapability("modals:edit")(inner)),
		)
		req := httptest.NewRequest("POST", "/api/modals", nil)
		req = req.WithContext(WithClaims(req.Context(), routerClaims()))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := run(capSet("modals:edit")); w.Code != 200 {
		t.Errorf("exact capability: status = %d, want 200", w.Code)
	}
	if w := run(capSet("modals:*")); w.Code != 200 {
		t.Errorf("wildcard capability: status = %d, want 200", w.Code)
	}
	if w := run(capSet("modals:view")); w.Code != 403 {
		t.Errorf("missing capability: status = %d, want 403", w.Code)
	}
	if w := run(nil); w.Code != 403 {
		t.Errorf("no capabilities: status = %d, want 403", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != 500 {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if code := errorCode(t, w); code != "INTERNAL_ERROR" {
		t.Errorf("error code = %q, want INTERNAL_ERROR", code)
	}
}

func TestHandlerTimeout_setsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := HandlerTimeout(100 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !hasDeadline {
		t.Error("context should carry a deadline")
	}
}

func TestHandlerTimeout_zeroDisables(t *testing.T) {
	var hasDeadline bool
	handler := HandlerTimeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if hasDeadline {
		t.Error("zero timeout should not set a deadline")
	}
}

func TestRequestID_generatesUnique(t *testing.T) {
	var ids []string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, CorrelationIDFrom(r.Context()))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if ids[0] == "" || ids[1] == "" {
		t.Fatal("correlation IDs should be generated")
	}
	if ids[0] == ids[1] {
		t.Error("correlation IDs should be unique per request")
	}
}
