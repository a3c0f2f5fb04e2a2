package submission

import (
	"testing"

	"github.com/proposehq/formbff/internal/rules"
	"github.com/proposehq/formbff/model"
)

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func findErr(errs []model.FieldError, field, code string) bool {
	for _, e := range errs {
		if e.Field == field && e.Code == code {
			return true
		}
	}
	return false
}

func TestCheckInputRequired(t *testing.T) {
	cfg := &model.ModalConfig{
		Fields: []model.Field{
			{ID: "name", Type: model.FieldText, Label: "Name", Required: true},
			{ID: "agree", Type: model.FieldCheckbox, Label: "Agree", Required: true},
			{ID: "tags", Type: model.FieldArray, Label: "Tags", Required: true},
			{ID: "note", Type: model.FieldTextarea, Label: "Note"},
		},
	}

	errs := CheckInput(rules.Evaluator{}, cfg, map[string]any{
		"name":  "",
		"agree": false,
		"tags":  []any{},
	})
	for _, field := range []string{"name", "agree", "tags"} {
		if !findErr(errs, field, "REQUIRED") {
			t.Errorf("expected REQUIRED for %s, got %v", field, errs)
		}
	}
	if findErr(errs, "note", "REQUIRED") {
		t.Error("note is optional, should not be required")
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{
		"name":  "Acme",
		"agree": true,
		"tags":  []any{"gov"},
	})
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestCheckInputHiddenFieldsSkipped(t *testing.T) {
	cfg := &model.ModalConfig{
		Fields: []model.Field{
			{ID: "kind", Type: model.FieldSelect, Label: "Kind"},
			{
				ID: "other", Type: model.FieldText, Label: "Other", Required: true,
				Conditions: []model.Condition{
					{TargetFieldID: "kind", Operator: model.OpEquals, Value: model.StringValue("other")},
				},
			},
		},
	}

	// Condition false: the required rule must not fire.
	errs := CheckInput(rules.Evaluator{}, cfg, map[string]any{"kind": "standard"})
	if len(errs) != 0 {
		t.Fatalf("hidden field should be skipped, got %v", errs)
	}

	// Condition true: now it is required.
	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"kind": "other"})
	if !findErr(errs, "other", "REQUIRED") {
		t.Fatalf("expected REQUIRED for visible field, got %v", errs)
	}
}

func TestCheckInputStringRules(t *testing.T) {
	cfg := &model.ModalConfig{
		Fields: []model.Field{
			{
				ID: "code", Type: model.FieldText, Label: "Code",
				Validation: &model.Validation{
					MinLength: intPtr(3),
					MaxLength: intPtr(5),
					Pattern:   "^[A-Z]+$",
				},
			},
		},
	}

	errs := CheckInput(rules.Evaluator{}, cfg, map[string]any{"code": "AB"})
	if !findErr(errs, "code", "MIN_LENGTH") {
		t.Errorf("expected MIN_LENGTH, got %v", errs)
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"code": "ABCDEF"})
	if !findErr(errs, "code", "MAX_LENGTH") {
		t.Errorf("expected MAX_LENGTH, got %v", errs)
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"code": "abc"})
	if !findErr(errs, "code", "PATTERN") {
		t.Errorf("expected PATTERN, got %v", errs)
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"code": "ABC"})
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestCheckInputBrokenPatternNeverBlocks(t *testing.T) {
	cfg := &model.ModalConfig{
		Fields: []model.Field{
			{
				ID: "x", Type: model.FieldText, Label: "X",
				Validation: &model.Validation{Pattern: "(["},
			},
		},
	}
	if errs := CheckInput(rules.Evaluator{}, cfg, map[string]any{"x": "anything"}); len(errs) != 0 {
		t.Fatalf("broken pattern must not block input, got %v", errs)
	}
}

func TestCheckInputNumberRules(t *testing.T) {
	cfg := &model.ModalConfig{
		Fields: []model.Field{
			{
				ID: "qty", Type: model.FieldNumber, Label: "Quantity",
				Validation: &model.Validation{Min: floatPtr(1), Max: floatPtr(10)},
			},
		},
	}

	errs := CheckInput(rules.Evaluator{}, cfg, map[string]any{"qty": float64(0)})
	if !findErr(errs, "qty", "MIN") {
		t.Errorf("expected MIN, got %v", errs)
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"qty": float64(11)})
	if !findErr(errs, "qty", "MAX") {
		t.Errorf("expected MAX, got %v", errs)
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"qty": "lots"})
	if !findErr(errs, "qty", "NOT_A_NUMBER") {
		t.Errorf("expected NOT_A_NUMBER, got %v", errs)
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"qty": float64(5)})
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestCheckInputDateRules(t *testing.T) {
	cfg := &model.ModalConfig{
		Fields: []model.Field{
			{
				ID: "due", Type: model.FieldDate, Label: "Due",
				Validation: &model.Validation{MinDate: "2026-01-01", MaxDate: "2026-12-31"},
			},
		},
	}

	errs := CheckInput(rules.Evaluator{}, cfg, map[string]any{"due": "not-a-date"})
	if !findErr(errs, "due", "INVALID_DATE") {
		t.Errorf("expected INVALID_DATE, got %v", errs)
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"due": "2025-06-01"})
	if !findErr(errs, "due", "MIN_DATE") {
		t.Errorf("expected MIN_DATE, got %v", errs)
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"due": "2027-01-01"})
	if !findErr(errs, "due", "MAX_DATE") {
		t.Errorf("expected MAX_DATE, got %v", errs)
	}

	errs = CheckInput(rules.Evaluator{}, cfg, map[string]any{"due": "2026-06-15"})
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestCheckInputCustomErrorMessage(t *testing.T) {
	cfg := &model.ModalConfig{
		Fields: []model.Field{
			{
				ID: "code", Type: model.FieldText, Label: "Code",
				Validation: &model.Validation{
					MinLength:    intPtr(3),
					ErrorMessage: "Code looks wrong",
				},
			},
		},
	}
	errs := CheckInput(rules.Evaluator{}, cfg, map[string]any{"code": "a"})
	if len(errs) != 1 || errs[0].Message != "Code looks wrong" {
		t.Fatalf("expected override message, got %v", errs)
	}
}

func TestCheckInputOptionalBlankSkipsRules(t *testing.T) {
	cfg := &model.ModalConfig{
		Fields: []model.Field{
			{
				ID: "code", Type: model.FieldText, Label: "Code",
				Validation: &model.Validation{MinLength: intPtr(3)},
			},
		},
	}
	if errs := CheckInput(rules.Evaluator{}, cfg, map[string]any{"code": ""}); len(errs) != 0 {
		t.Fatalf("blank optional field should skip rules, got %v", errs)
	}
	if errs := CheckInput(rules.Evaluator{}, cfg, map[string]any{}); len(errs) != 0 {
		t.Fatalf("absent optional field should skip rules, got %v", errs)
	}
}
