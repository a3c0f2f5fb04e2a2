package submission

import (
	"strings"
	"testing"

	"github.com/proposehq/formbff/model"
)

func testResolver() *MappingResolver {
	return &MappingResolver{
		Values: map[string]any{
			"company_name": "Acme Corp",
			"employees":    float64(42),
			"address": map[string]any{
				"city": "Arlington",
			},
			"record_id": "rec-9",
		},
		Context: &model.RequestContext{
			SubjectID:     "user-1",
			Email:         "sam@acme.test",
			TenantID:      "tenant-a",
			CorrelationID: "corr-7",
			Claims: map[string]any{
				"org": map[string]any{"id": "org-3"},
			},
		},
	}
}

func TestResolveSources(t *testing.T) {
	r := testResolver()

	tests := []struct {
		source string
		want   any
	}{
		{"field.company_name", "Acme Corp"},
		{"field.address.city", "Arlington"},
		{"company_name", "Acme Corp"},
		{"context.user.id", "user-1"},
		{"context.user.email", "sam@acme.test"},
		{"context.org.id", "org-3"},
		{"'pending'", "pending"},
		{"42", int64(42)},
		{"99.5", 99.5},
		{"-3", int64(-3)},
		// Bare token with no matching field resolves as a literal string.
		{"draft", "draft"},
	}
	for _, tc := range tests {
		got, err := r.Resolve(tc.source)
		if err != nil {
			t.Errorf("Resolve(%q): unexpected error: %v", tc.source, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Resolve(%q) = %v (%T), want %v (%T)", tc.source, got, got, tc.want, tc.want)
		}
	}
}

func TestResolveErrors(t *testing.T) {
	r := testResolver()

	for _, source := range []string{"", "field.", "field.missing", "context.nope"} {
		if _, err := r.Resolve(source); err == nil {
			t.Errorf("Resolve(%q): expected error", source)
		}
	}

	bare := &MappingResolver{Values: map[string]any{}}
	if _, err := bare.Resolve("context.user.id"); err == nil {
		t.Error("expected error resolving context source without a request context")
	}
}

func TestResolveMappings(t *testing.T) {
	r := testResolver()

	payload, err := r.ResolveMappings(map[string]string{
		"name":      "field.company_name",
		"city":      "field.address.city",
		"owner":     "context.user.id",
		"status":    "'active'",
		"headcount": "field.employees",
	})
	if err != nil {
		t.Fatalf("ResolveMappings: %v", err)
	}
	if payload["name"] != "Acme Corp" || payload["city"] != "Arlington" ||
		payload["owner"] != "user-1" || payload["status"] != "active" ||
		payload["headcount"] != float64(42) {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestResolveMappingsAggregatesFailures(t *testing.T) {
	r := testResolver()

	_, err := r.ResolveMappings(map[string]string{
		"a": "field.missing_one",
		"b": "context.missing_two",
		"c": "field.company_name",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "missing_one") || !strings.Contains(msg, "missing_two") {
		t.Fatalf("error should name every failed mapping, got: %v", err)
	}
}

func TestResolveRecordID(t *testing.T) {
	r := testResolver()

	id, err := r.ResolveRecordID(model.ByFieldResolution("record_id"))
	if err != nil {
		t.Fatalf("ResolveRecordID by field: %v", err)
	}
	if id != "rec-9" {
		t.Fatalf("id = %q, want rec-9", id)
	}

	id, err = r.ResolveRecordID(model.ByContextResolution("org.id"))
	if err != nil {
		t.Fatalf("ResolveRecordID by context: %v", err)
	}
	if id != "org-3" {
		t.Fatalf("id = %q, want org-3", id)
	}
}

func TestResolveRecordIDNumericField(t *testing.T) {
	r := &MappingResolver{Values: map[string]any{"pk": float64(17)}}

	id, err := r.ResolveRecordID(model.ByFieldResolution("pk"))
	if err != nil {
		t.Fatalf("ResolveRecordID: %v", err)
	}
	if id != "17" {
		t.Fatalf("id = %q, want 17", id)
	}
}

func TestResolveRecordIDIncomplete(t *testing.T) {
	r := testResolver()

	cases := []*model.IDResolution{
		nil,
		{},
		{Method: model.ResolveByField},
		{Method: model.ResolveByContext},
		{Method: model.ResolveByField, FieldID: "record_id", ContextPath: "org.id"},
	}
	for i, res := range cases {
		if _, err := r.ResolveRecordID(res); err == nil {
			t.Errorf("case %d: expected error for incomplete resolution", i)
		}
	}

	if _, err := r.ResolveRecordID(model.ByFieldResolution("missing")); err == nil {
		t.Error("expected error for unsubmitted id field")
	}
}
