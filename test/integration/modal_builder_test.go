package integration

import (
	"net/http"
	"testing"

	"github.com/proposehq/formbff/model"
)

// intakeModalConfig returns a small but complete proposal intake form:
// two fields and a create operation against the Proposal entity.
func intakeModalConfig() *model.ModalConfig {
	return &model.ModalConfig{
		Name:        "Proposal Intake",
		Description: "Collects the basics for a new proposal.",
		Fields: []model.Field{
			{
				ID: "field_company", Type: model.FieldText, Label: "Company name",
				Required:    true,
				MappingType: model.MappingEntity, TargetEntity: "Proposal", TargetAttribute: "name",
			},
			{ID: "field_value", Type: model.FieldNumber, Label: "Contract value"},
		},
		EntityOperations: []model.EntityOperation{
			{
				ID: "op_create_proposal", Type: model.OperationCreate, Entity: "Proposal",
				FieldMappings: map[string]string{
					"name":  "field.field_company",
					"value": "field.field_value",
					"owner": "context.user.id",
				},
			},
		},
	}
}

func TestAuth_MissingToken(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/api/modals", "")
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestAuth_ExpiredToken(t *testing.T) {
	h := NewTestHarness(t)

	token := h.GenerateExpiredToken(BuilderClaims())
	resp := h.GET("/api/modals", token)
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestAuth_GarbageToken(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/api/modals", "not-a-jwt")
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestAuth_HealthEndpointsBypass(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/health", "")
	h.AssertStatus(t, resp, http.StatusOK)

	resp = h.GET("/ready", "")
	h.AssertStatus(t, resp, http.StatusOK)
}

func TestCapability_ViewerCannotEdit(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ViewerClaims())

	resp := h.GET("/api/modals", token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = h.POST("/api/modals", intakeModalConfig(), token)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer create status = %d, want 403", resp.StatusCode)
	}
	if code := h.ErrorCode(resp); code != "FORBIDDEN" {
		t.Errorf("error code = %q, want FORBIDDEN", code)
	}
}

func TestCapability_SubmitterCannotViewRecords(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(SubmitterClaims())

	resp := h.GET("/api/past-performance", token)
	h.AssertStatus(t, resp, http.StatusForbidden)
}

func TestCapability_AdminWildcard(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())

	resp := h.POST("/api/modals", intakeModalConfig(), token)
	h.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = h.GET("/api/past-performance", token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestModalLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(BuilderClaims())

	// Create.
	var created struct {
		ID       string            `json:"id"`
		Config   model.ModalConfig `json:"config"`
		Checksum string            `json:"checksum"`
	}
	resp := h.POST("/api/modals", intakeModalConfig(), token)
	h.AssertJSON(t, resp, http.StatusCreated, &created)
	if created.ID == "" {
		t.Fatal("created modal has no id")
	}
	if created.Checksum == "" {
		t.Error("created modal has no checksum")
	}
	if created.Config.Name != "Proposal Intake" {
		t.Errorf("config name = %q, want %q", created.Config.Name, "Proposal Intake")
	}

	// The stored row lives on the platform under the ModalConfig entity.
	if n := h.Platform.RecordCount("ModalConfig"); n != 1 {
		t.Errorf("platform ModalConfig records = %d, want 1", n)
	}

	// List.
	var listing struct {
		Modals []struct {
			ID string `json:"id"`
		} `json:"modals"`
		Total int `json:"total"`
	}
	resp = h.GET("/api/modals", token)
	h.AssertJSON(t, resp, http.StatusOK, &listing)
	if listing.Total != 1 || len(listing.Modals) != 1 {
		t.Fatalf("listing = %d modals (total %d), want 1", len(listing.Modals), listing.Total)
	}
	if listing.Modals[0].ID != created.ID {
		t.Errorf("listed id = %q, want %q", listing.Modals[0].ID, created.ID)
	}

	// Update: rename and verify the new checksum.
	renamed := intakeModalConfig()
	renamed.Name = "Proposal Intake v2"
	var updated struct {
		Config   model.ModalConfig `json:"config"`
		Checksum string            `json:"checksum"`
	}
	resp = h.PUT("/api/modals/"+created.ID, renamed, token)
	h.AssertJSON(t, resp, http.StatusOK, &updated)
	if updated.Config.Name != "Proposal Intake v2" {
		t.Errorf("updated name = %q, want %q", updated.Config.Name, "Proposal Intake v2")
	}
	if updated.Checksum == created.Checksum {
		t.Error("checksum did not change after update")
	}

	// Delete.
	resp = h.DELETE("/api/modals/"+created.ID, token)
	h.AssertStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = h.GET("/api/modals/"+created.ID, token)
	h.AssertStatus(t, resp, http.StatusNotFound)
}

func TestValidateModal(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(BuilderClaims())

	var result struct {
		IsValid     bool `json:"is_valid"`
		TotalIssues int  `json:"total_issues"`
	}
	resp := h.POST("/api/modals/validate", intakeModalConfig(), token)
	h.AssertJSON(t, resp, http.StatusOK, &result)
	if !result.IsValid {
		t.Fatalf("intake config reported invalid: %s", FormatJSON(result))
	}

	// A config with no fields and no operations cannot pass.
	broken := &model.ModalConfig{Name: "Broken"}
	resp = h.POST("/api/modals/validate", broken, token)
	h.AssertJSON(t, resp, http.StatusOK, &result)
	if result.IsValid {
		t.Error("empty config reported valid")
	}
	if result.TotalIssues == 0 {
		t.Error("empty config reported zero issues")
	}
}

func TestPlatformReceivesTenantHeaders(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(BuilderClaims())

	resp := h.GETWithHeaders("/api/modals", token, map[string]string{
		"X-Correlation-Id": "corr-integration-1",
	})
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	req, ok := h.Platform.LastRequest("/api/data/ModalConfig")
	if !ok {
		t.Fatal("platform saw no ModalConfig request")
	}
	if req.TenantID != "acme-gov" {
		t.Errorf("X-Tenant-Id = %q, want %q", req.TenantID, "acme-gov")
	}
	if req.CorrelationID != "corr-integration-1" {
		t.Errorf("X-Correlation-Id = %q, want %q", req.CorrelationID, "corr-integration-1")
	}
	if req.Subject != "user-builder" {
		t.Errorf("X-Request-Subject = %q, want %q", req.Subject, "user-builder")
	}
}
