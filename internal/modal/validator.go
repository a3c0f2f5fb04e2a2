package modal

import (
	"fmt"

	"github.com/proposehq/formbff/internal/platform/entityindex"
	"github.com/proposehq/formbff/model"
)

// Issue describes a single validation finding in a modal configuration.
type Issue struct {
	Path    string `json:"path,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// SectionResult holds one validation section. Issues make the section
// invalid; Warnings are advisory and only count toward the total.
type SectionResult struct {
	IsValid  bool    `json:"is_valid"`
	Issues   []Issue `json:"issues,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

func (s SectionResult) count() int {
	return len(s.Issues) + len(s.Warnings)
}

// Sections breaks the validation result down by configuration area.
type Sections struct {
	BasicInfo  SectionResult `json:"basic_info"`
	Fields     SectionResult `json:"fields"`
	Steps      SectionResult `json:"steps"`
	Operations SectionResult `json:"operations"`
	Webhooks   SectionResult `json:"webhooks"`
	Emails     SectionResult `json:"emails"`
}

// Result is the full validation outcome for one configuration. Only the
// basic-info, fields, and operations sections gate IsValid: a config with
// step or notification problems still renders and submits.
type Result struct {
	IsValid        bool     `json:"is_valid"`
	CriticalIssues bool     `json:"critical_issues"`
	TotalIssues    int      `json:"total_issues"`
	Sections       Sections `json:"sections"`
}

// Validator checks modal configurations structurally and, when an entity
// index is supplied, referentially against the platform's schema.
type Validator struct {
	index *entityindex.Index
}

// NewValidator creates a Validator. The index may be nil to skip
// platform-schema checks.
func NewValidator(index *entityindex.Index) *Validator {
	return &Validator{index: index}
}

// Validate checks the configuration. It performs no I/O and never fails:
// every call recomputes the full result from scratch.
func (v *Validator) Validate(cfg *model.ModalConfig) Result {
	var r Result
	r.Sections.BasicInfo = v.validateBasicInfo(cfg)
	r.Sections.Fields = v.validateFields(cfg)
	r.Sections.Steps = v.validateSteps(cfg)
	r.Sections.Operations = v.validateOperations(cfg)
	r.Sections.Webhooks = v.validateWebhooks(cfg)
	r.Sections.Emails = v.validateEmails(cfg)

	r.IsValid = r.Sections.BasicInfo.IsValid &&
		r.Sections.Fields.IsValid &&
		r.Sections.Operations.IsValid
	r.CriticalIssues = !r.IsValid
	r.TotalIssues = r.Sections.BasicInfo.count() +
		r.Sections.Fields.count() +
		r.Sections.Steps.count() +
		r.Sections.Operations.count() +
		r.Sections.Webhooks.count() +
		r.Sections.Emails.count()
	return r
}

func finish(s SectionResult) SectionResult {
	s.IsValid = len(s.Issues) == 0
	return s
}

func (v *Validator) validateBasicInfo(cfg *model.ModalConfig) SectionResult {
	var s SectionResult
	if cfg.Name == "" {
		s.Issues = append(s.Issues, Issue{Path: "title", Code: "REQUIRED", Message: "Modal name is required"})
	}
	if cfg.Description == "" {
		s.Issues = append(s.Issues, Issue{Path: "description", Code: "REQUIRED", Message: "Modal description is required"})
	}
	return finish(s)
}

func (v *Validator) validateFields(cfg *model.ModalConfig) SectionResult {
	var s SectionResult

	if len(cfg.Fields) == 0 {
		s.Issues = append(s.Issues, Issue{Path: "fields", Code: "REQUIRED", Message: "Modal must have at least one field"})
		return finish(s)
	}

	seen := make(map[string]bool, len(cfg.Fields))
	known := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		known[f.ID] = true
	}

	for i, f := range cfg.Fields {
		prefix := fmt.Sprintf("fields[%d]", i)
		name := f.Label
		if name == "" {
			name = f.ID
		}

		if f.ID != "" && seen[f.ID] {
			s.Issues = append(s.Issues, Issue{
				Path: prefix + ".id", Code: "DUPLICATE",
				Message: fmt.Sprintf("Field id %q is used more than once", f.ID),
			})
		}
		seen[f.ID] = true

		// Template-managed file fields carry their own extraction and
		// persistence setup; skip the structural checks for them.
		if f.Type == model.FieldFile && f.RAG != nil && f.RAG.Enabled && f.Template.HasExtractionConfig() {
			continue
		}

		if f.Label == "" {
			s.Issues = append(s.Issues, Issue{
				Path: prefix + ".label", Code: "REQUIRED",
				Message: fmt.Sprintf("Field %q is missing a label", name),
			})
		}
		if f.Type != "" && !model.KnownFieldTypes[f.Type] {
			s.Issues = append(s.Issues, Issue{
				Path: prefix + ".type", Code: "INVALID_ENUM",
				Message: fmt.Sprintf("Field %q has unknown type %q", name, f.Type),
			})
		}
		if f.Type == model.FieldSelect && len(f.Options) == 0 {
			s.Issues = append(s.Issues, Issue{
				Path: prefix + ".options", Code: "REQUIRED",
				Message: fmt.Sprintf("Dropdown must have at least one option (field %q)", name),
			})
		}
		if f.Type == model.FieldArray && (f.ArrayConfig == nil || f.ArrayConfig.ItemType == "") {
			s.Issues = append(s.Issues, Issue{
				Path: prefix + ".arrayConfig.itemType", Code: "REQUIRED",
				Message: fmt.Sprintf("Array field %q needs an item type", name),
			})
		}

		switch f.MappingType {
		case model.MappingEntity:
			if f.TargetEntity == "" || f.TargetAttribute == "" {
				s.Issues = append(s.Issues, Issue{
					Path: prefix + ".mappingType", Code: "REQUIRED",
					Message: fmt.Sprintf("Field %q entity mapping needs a target entity and attribute", name),
				})
			} else if v.index != nil {
				if !v.index.HasEntity(f.TargetEntity) {
					s.Warnings = append(s.Warnings, Issue{
						Path: prefix + ".targetEntity", Code: "REF_NOT_FOUND",
						Message: fmt.Sprintf("Entity %q not found in platform schema", f.TargetEntity),
					})
				} else if !v.index.HasAttribute(f.TargetEntity, f.TargetAttribute) {
					s.Warnings = append(s.Warnings, Issue{
						Path: prefix + ".targetAttribute", Code: "REF_NOT_FOUND",
						Message: fmt.Sprintf("Attribute %q not found on entity %q", f.TargetAttribute, f.TargetEntity),
					})
				}
			}
		case model.MappingCustomJSON:
			if f.CustomJSONPath == "" {
				s.Issues = append(s.Issues, Issue{
					Path: prefix + ".customJsonPath", Code: "REQUIRED",
					Message: fmt.Sprintf("Field %q custom JSON mapping needs a path", name),
				})
			}
		}

		if f.Required && f.Validation.Empty() {
			s.Warnings = append(s.Warnings, Issue{
				Path: prefix + ".validation", Code: "NO_RULE",
				Message: fmt.Sprintf("Required field %q has no validation rule", name),
			})
		}

		s.Warnings = append(s.Warnings, v.checkConditions(prefix, f.Conditions, known)...)
	}

	return finish(s)
}

// checkConditions flags conditions that can never evaluate usefully:
// dangling field references, unknown operators, missing comparison values.
// All advisory; the evaluator handles them fail-closed at runtime.
func (v *Validator) checkConditions(prefix string, conds []model.Condition, known map[string]bool) []Issue {
	var warns []Issue
	for i, c := range conds {
		cp := fmt.Sprintf("%s.conditions[%d]", prefix, i)
		if c.TargetFieldID == "" {
			warns = append(warns, Issue{Path: cp + ".targetFieldId", Code: "REQUIRED", Message: "Condition has no target field"})
		} else if !known[c.TargetFieldID] {
			warns = append(warns, Issue{
				Path: cp + ".targetFieldId", Code: "REF_NOT_FOUND",
				Message: fmt.Sprintf("Condition references unknown field %q", c.TargetFieldID),
			})
		}
		if !c.Operator.Known() {
			warns = append(warns, Issue{
				Path: cp + ".operator", Code: "INVALID_ENUM",
				Message: fmt.Sprintf("Condition uses unknown operator %q", c.Operator),
			})
		} else if c.Operator.NeedsValue() && c.Value.IsAbsent() {
			warns = append(warns, Issue{
				Path: cp + ".value", Code: "REQUIRED",
				Message: fmt.Sprintf("Operator %q needs a comparison value", c.Operator),
			})
		}
	}
	return warns
}

// validateSteps is entirely advisory: a config with unassigned fields or
// empty steps still renders, so nothing here sets Issues.
func (v *Validator) validateSteps(cfg *model.ModalConfig) SectionResult {
	var s SectionResult

	if len(cfg.Steps) == 0 {
		return finish(s)
	}

	stepIDs := make(map[string]bool, len(cfg.Steps))
	for _, st := range cfg.Steps {
		stepIDs[st.ID] = true
	}

	assigned := make(map[string]int, len(cfg.Steps))
	for i, f := range cfg.Fields {
		prefix := fmt.Sprintf("fields[%d]", i)
		if f.StepID == "" {
			s.Warnings = append(s.Warnings, Issue{
				Path: prefix + ".stepId", Code: "UNASSIGNED",
				Message: fmt.Sprintf("Field %q is not assigned to a step", fieldName(f)),
			})
			continue
		}
		if !stepIDs[f.StepID] {
			s.Warnings = append(s.Warnings, Issue{
				Path: prefix + ".stepId", Code: "REF_NOT_FOUND",
				Message: fmt.Sprintf("Field %q references unknown step %q", fieldName(f), f.StepID),
			})
			continue
		}
		assigned[f.StepID]++
	}

	for i, st := range cfg.Steps {
		if assigned[st.ID] == 0 {
			title := st.Title
			if title == "" {
				title = st.ID
			}
			s.Warnings = append(s.Warnings, Issue{
				Path: fmt.Sprintf("steps[%d]", i), Code: "EMPTY_STEP",
				Message: fmt.Sprintf("Step %q has no fields", title),
			})
		}
	}

	return finish(s)
}

func (v *Validator) validateOperations(cfg *model.ModalConfig) SectionResult {
	var s SectionResult

	known := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		known[f.ID] = true
	}

	for i, op := range cfg.EntityOperations {
		prefix := fmt.Sprintf("entityOperations[%d]", i)

		if op.Entity == "" {
			s.Issues = append(s.Issues, Issue{Path: prefix + ".entity", Code: "REQUIRED", Message: "Operation needs a target entity"})
		} else if v.index != nil && !v.index.HasEntity(op.Entity) {
			s.Warnings = append(s.Warnings, Issue{
				Path: prefix + ".entity", Code: "REF_NOT_FOUND",
				Message: fmt.Sprintf("Entity %q not found in platform schema", op.Entity),
			})
		}

		switch op.Type {
		case "":
			s.Issues = append(s.Issues, Issue{Path: prefix + ".type", Code: "REQUIRED", Message: "Operation needs a type"})
		case model.OperationCreate, model.OperationUpdate:
		default:
			s.Issues = append(s.Issues, Issue{
				Path: prefix + ".type", Code: "INVALID_ENUM",
				Message: fmt.Sprintf("Unknown operation type %q", op.Type),
			})
		}

		if len(op.FieldMappings) == 0 {
			s.Issues = append(s.Issues, Issue{Path: prefix + ".fieldMappings", Code: "REQUIRED", Message: "Operation needs at least one field mapping"})
		} else if v.index != nil && op.Entity != "" && v.index.HasEntity(op.Entity) {
			for attr := range op.FieldMappings {
				if !v.index.HasAttribute(op.Entity, attr) {
					s.Warnings = append(s.Warnings, Issue{
						Path: prefix + ".fieldMappings", Code: "REF_NOT_FOUND",
						Message: fmt.Sprintf("Attribute %q not found on entity %q", attr, op.Entity),
					})
				}
			}
		}

		if op.Type == model.OperationUpdate && !op.IDResolution.Complete() {
			s.Issues = append(s.Issues, Issue{
				Path: prefix + ".idResolution", Code: "REQUIRED",
				Message: "Update operation needs a fully specified id resolution",
			})
		}

		s.Warnings = append(s.Warnings, v.checkConditions(prefix, op.Conditions, known)...)
	}

	if len(cfg.EntityOperations) == 0 && !hasTemplateOperations(cfg) {
		s.Issues = append(s.Issues, Issue{
			Path: "entityOperations", Code: "REQUIRED",
			Message: "Modal must define at least one entity operation",
		})
	}

	return finish(s)
}

// hasTemplateOperations reports whether any file field's template ships
// default entity operations, which satisfy the operations requirement on
// its own.
func hasTemplateOperations(cfg *model.ModalConfig) bool {
	for _, f := range cfg.Fields {
		if f.Type == model.FieldFile && f.Template != nil && len(f.Template.DefaultOperations) > 0 {
			return true
		}
	}
	return false
}

func (v *Validator) validateWebhooks(cfg *model.ModalConfig) SectionResult {
	var s SectionResult
	for i, w := range cfg.Webhooks {
		if !w.Enabled {
			continue
		}
		prefix := fmt.Sprintf("webhooks[%d]", i)
		if w.URL == "" {
			s.Issues = append(s.Issues, Issue{Path: prefix + ".url", Code: "REQUIRED", Message: "Enabled webhook needs a URL"})
		}
		switch w.Method {
		case "", model.WebhookPost, model.WebhookPut, model.WebhookPatch:
		default:
			s.Issues = append(s.Issues, Issue{
				Path: prefix + ".method", Code: "INVALID_ENUM",
				Message: fmt.Sprintf("Unknown webhook method %q", w.Method),
			})
		}
	}
	return finish(s)
}

func (v *Validator) validateEmails(cfg *model.ModalConfig) SectionResult {
	var s SectionResult
	for i, e := range cfg.EmailNotifications {
		if !e.Enabled {
			continue
		}
		prefix := fmt.Sprintf("emailNotifications[%d]", i)
		if e.To == "" {
			s.Issues = append(s.Issues, Issue{Path: prefix + ".to", Code: "REQUIRED", Message: "Enabled email needs a recipient"})
		}
		if e.Subject == "" {
			s.Issues = append(s.Issues, Issue{Path: prefix + ".subject", Code: "REQUIRED", Message: "Enabled email needs a subject"})
		}
		if e.Body == "" {
			s.Issues = append(s.Issues, Issue{Path: prefix + ".body", Code: "REQUIRED", Message: "Enabled email needs a body"})
		}
	}
	return finish(s)
}

func fieldName(f model.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}
