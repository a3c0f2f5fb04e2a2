package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ModalConfig is the root aggregate describing a dynamic data-entry form:
// its fields, step layout, and the side effects executed on submission.
// Configs are persisted by the platform as an opaque JSON document and are
// treated as immutable values in memory; every mutation produces a new
// config via Clone rather than editing nested members in place.
type ModalConfig struct {
	Name        string `json:"title"`
	Description string `json:"description"`

	Fields []Field `json:"fields"`
	Steps  []Step  `json:"steps,omitempty"`

	EntityOperations   []EntityOperation   `json:"entityOperations,omitempty"`
	Webhooks           []Webhook           `json:"webhooks,omitempty"`
	EmailNotifications []EmailNotification `json:"emailNotifications,omitempty"`
	StatusUpdates      []StatusUpdate      `json:"statusUpdates,omitempty"`
}

// FieldType enumerates supported field types.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldFile     FieldType = "file"
	FieldRichtext FieldType = "richtext"
	FieldArray    FieldType = "array"
)

// KnownFieldTypes lists every type the builder can produce.
var KnownFieldTypes = map[FieldType]bool{
	FieldText: true, FieldTextarea: true, FieldNumber: true,
	FieldDate: true, FieldSelect: true, FieldCheckbox: true,
	FieldFile: true, FieldRichtext: true, FieldArray: true,
}

// MappingType describes how a field value is persisted on submission.
type MappingType string

const (
	MappingNone       MappingType = "none"
	MappingEntity     MappingType = "entity"
	MappingCustomJSON MappingType = "custom_json"
)

// Field is a single input in a modal configuration. Its display order is its
// position in ModalConfig.Fields; its page is the step referenced by StepID.
type Field struct {
	ID          string    `json:"id"`
	Type        FieldType `json:"type"`
	Label       string    `json:"label"`
	Placeholder string    `json:"placeholder,omitempty"`
	HelpText    string    `json:"helpText,omitempty"`
	Required    bool      `json:"required,omitempty"`

	Options    []Option    `json:"options,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Validation *Validation `json:"validation,omitempty"`

	MappingType     MappingType `json:"mappingType,omitempty"`
	TargetEntity    string      `json:"targetEntity,omitempty"`
	TargetAttribute string      `json:"targetAttribute,omitempty"`
	CustomJSONPath  string      `json:"customJsonPath,omitempty"`

	// StepID references a Step.ID; empty means unassigned.
	StepID string `json:"stepId,omitempty"`

	ArrayConfig *ArrayConfig   `json:"arrayConfig,omitempty"`
	RAG         *RAGConfig     `json:"ragConfig,omitempty"`
	Template    *FieldTemplate `json:"template,omitempty"`
}

// Option is a label/value pair for select fields.
type Option struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Validation holds the type-specific rules applied to a field's input.
// Pointer members distinguish "unset" from zero. Required mirrors the flag
// some imported configs carry inside the rule object; the builder itself
// only sets Field.Required.
type Validation struct {
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinDate   string   `json:"minDate,omitempty"`
	MaxDate   string   `json:"maxDate,omitempty"`
	Required  bool     `json:"required,omitempty"`

	// ErrorMessage overrides the generated message for any failed rule.
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Empty reports whether no rule is set. A bare ErrorMessage does not count.
func (v *Validation) Empty() bool {
	if v == nil {
		return true
	}
	return v.MinLength == nil && v.MaxLength == nil && v.Pattern == "" &&
		v.Min == nil && v.Max == nil && v.MinDate == "" && v.MaxDate == "" &&
		!v.Required
}

// ArrayConfig describes the element type of an array field.
type ArrayConfig struct {
	ItemType FieldType `json:"itemType"`
}

// RAGConfig controls retrieval indexing for uploaded files.
type RAGConfig struct {
	Enabled       bool   `json:"enabled"`
	ExtractData   bool   `json:"extractData,omitempty"`
	TargetSchema  string `json:"targetSchema,omitempty"`
	AutoIngest    bool   `json:"autoIngest,omitempty"`
	IngestionMode string `json:"ingestionMode,omitempty"`
}

// FieldTemplate binds a file field to a document template that ships its own
// extraction settings and a default set of entity operations.
type FieldTemplate struct {
	ID                          string            `json:"id"`
	ExtractionEnabled           bool              `json:"extraction_enabled,omitempty"`
	ExtractionFieldsDescription string            `json:"extraction_fields_description,omitempty"`
	DefaultOperations           []EntityOperation `json:"defaultOperations,omitempty"`
}

// HasExtractionConfig reports whether the template carries a complete
// extraction configuration.
func (t *FieldTemplate) HasExtractionConfig() bool {
	return t != nil && t.ExtractionEnabled && t.ExtractionFieldsDescription != ""
}

// Step is a named page grouping fields in a multi-page form. Steps own fields
// by back-reference only: each Field.StepID names at most one step.
type Step struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Operator is a condition comparison operator. Persisted documents carry two
// spellings for several operators; Normalize folds them together.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpIsEmpty     Operator = "isEmpty"
	OpIsNotEmpty  Operator = "isNotEmpty"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// operatorAliases maps legacy spellings to canonical operators.
var operatorAliases = map[Operator]Operator{
	"not_equals":   OpNotEquals,
	"is_empty":     OpIsEmpty,
	"is_not_empty": OpIsNotEmpty,
}

// Normalize returns the canonical spelling of the operator. Unrecognized
// operators are returned unchanged; the evaluator decides how to treat them.
func (o Operator) Normalize() Operator {
	if canonical, ok := operatorAliases[o]; ok {
		return canonical
	}
	return o
}

// Known reports whether the operator (after normalization) is recognized.
func (o Operator) Known() bool {
	switch o.Normalize() {
	case OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpIsEmpty, OpIsNotEmpty, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

// NeedsValue reports whether the operator requires a comparison value.
// Only the two emptiness operators do not.
func (o Operator) NeedsValue() bool {
	switch o.Normalize() {
	case OpIsEmpty, OpIsNotEmpty:
		return false
	}
	return true
}

// Condition is a single comparison against a named field's current value.
type Condition struct {
	ID            string         `json:"id,omitempty"`
	TargetFieldID string         `json:"targetFieldId"`
	Operator      Operator       `json:"operator"`
	Value         ConditionValue `json:"value,omitempty"`
}

// conditionAlias mirrors Condition with the legacy "field" key accepted on
// input in place of "targetFieldId".
type conditionAlias struct {
	ID            string         `json:"id,omitempty"`
	TargetFieldID string         `json:"targetFieldId"`
	Field         string         `json:"field"`
	Operator      Operator       `json:"operator"`
	Value         ConditionValue `json:"value,omitempty"`
}

// UnmarshalJSON accepts both the current "targetFieldId" key and the legacy
// "field" key, preferring the former when both are present.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var alias conditionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	c.ID = alias.ID
	c.TargetFieldID = alias.TargetFieldID
	if c.TargetFieldID == "" {
		c.TargetFieldID = alias.Field
	}
	c.Operator = alias.Operator
	c.Value = alias.Value
	return nil
}

// MarshalJSON emits the canonical document shape, omitting the value for
// the emptiness operators rather than writing an explicit null.
func (c Condition) MarshalJSON() ([]byte, error) {
	type out struct {
		ID            string          `json:"id,omitempty"`
		TargetFieldID string          `json:"targetFieldId"`
		Operator      Operator        `json:"operator"`
		Value         *ConditionValue `json:"value,omitempty"`
	}
	o := out{ID: c.ID, TargetFieldID: c.TargetFieldID, Operator: c.Operator}
	if !c.Value.IsAbsent() {
		v := c.Value
		o.Value = &v
	}
	return json.Marshal(o)
}

// ValueKind tags the parsed type of a condition value.
type ValueKind int

const (
	ValueAbsent ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
)

// ConditionValue is a tagged scalar fixed at parse time. Builder documents
// historically stored whatever JSON scalar the editor produced; tagging the
// kind here lets the numeric operators refuse non-numeric operands instead
// of guessing.
type ConditionValue struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

// StringValue builds a string-kinded value.
func StringValue(s string) ConditionValue {
	return ConditionValue{Kind: ValueString, Str: s}
}

// NumberValue builds a number-kinded value.
func NumberValue(n float64) ConditionValue {
	return ConditionValue{Kind: ValueNumber, Num: n}
}

// BoolValue builds a bool-kinded value.
func BoolValue(b bool) ConditionValue {
	return ConditionValue{Kind: ValueBool, Bool: b}
}

// IsAbsent reports whether no value was supplied.
func (v ConditionValue) IsAbsent() bool { return v.Kind == ValueAbsent }

// Text returns the stringified value, matching how the builder UI renders
// comparison operands.
func (v ConditionValue) Text() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}

// Number returns the numeric value, or false when the value is not a number.
// String values that parse as numbers count: select options store numbers as
// strings.
func (v ConditionValue) Number() (float64, bool) {
	switch v.Kind {
	case ValueNumber:
		return v.Num, true
	case ValueString:
		n, err := strconv.ParseFloat(v.Str, 64)
		return n, err == nil
	}
	return 0, false
}

// MarshalJSON emits the native JSON scalar for the tagged kind. Absent
// values marshal as null.
func (v ConditionValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueBool:
		return json.Marshal(v.Bool)
	}
	return []byte("null"), nil
}

// UnmarshalJSON tags the value by the scalar type found in the document.
func (v *ConditionValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = ConditionValue{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("condition value: unsupported JSON scalar %s", trimmed)
	}
	*v = NumberValue(n)
	return nil
}

// OperationType enumerates submit-time entity operations.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
)

// ConditionLogic selects how an operation combines its conditions.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "and"
	LogicOr  ConditionLogic = "or"
)

// EntityOperation is a submit-time instruction to create or update a record
// in the platform's data store.
type EntityOperation struct {
	ID             string            `json:"id"`
	Type           OperationType     `json:"type"`
	Entity         string            `json:"entity"`
	FieldMappings  map[string]string `json:"fieldMappings,omitempty"`
	Conditions     []Condition       `json:"conditions,omitempty"`
	ConditionLogic ConditionLogic    `json:"conditionLogic,omitempty"`
	IDResolution   *IDResolution     `json:"idResolution,omitempty"`
}

// IDResolutionMethod selects how an update operation locates its target row.
type IDResolutionMethod string

const (
	ResolveByField   IDResolutionMethod = "field"
	ResolveByContext IDResolutionMethod = "context"
)

// IDResolution locates the record an update operation targets: either a form
// field holding the record ID, or a dotted path into the request context.
// Exactly one of FieldID/ContextPath is populated, matching Method.
type IDResolution struct {
	Method      IDResolutionMethod `json:"method"`
	FieldID     string             `json:"fieldId,omitempty"`
	ContextPath string             `json:"contextPath,omitempty"`
}

// ByFieldResolution builds an IDResolution reading the record ID from a field.
func ByFieldResolution(fieldID string) *IDResolution {
	return &IDResolution{Method: ResolveByField, FieldID: fieldID}
}

// ByContextResolution builds an IDResolution reading the record ID from the
// request context.
func ByContextResolution(path string) *IDResolution {
	return &IDResolution{Method: ResolveByContext, ContextPath: path}
}

// Complete reports whether the resolution is fully specified: a method with
// its matching selector populated and the other empty.
func (r *IDResolution) Complete() bool {
	if r == nil {
		return false
	}
	switch r.Method {
	case ResolveByField:
		return r.FieldID != "" && r.ContextPath == ""
	case ResolveByContext:
		return r.ContextPath != "" && r.FieldID == ""
	}
	return false
}

// WebhookMethod enumerates allowed webhook HTTP methods.
type WebhookMethod string

const (
	WebhookPost  WebhookMethod = "POST"
	WebhookPut   WebhookMethod = "PUT"
	WebhookPatch WebhookMethod = "PATCH"
)

// Webhook is a submit-time HTTP callout.
type Webhook struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Method          WebhookMethod     `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	IncludeFormData bool              `json:"includeFormData,omitempty"`
	IncludeContext  bool              `json:"includeContext,omitempty"`
	CustomPayload   string            `json:"customPayload,omitempty"`
	Enabled         bool              `json:"enabled"`
}

// EmailNotification is a submit-time email sent through the platform.
type EmailNotification struct {
	ID              string `json:"id"`
	To              string `json:"to"`
	FromName        string `json:"fromName,omitempty"`
	Subject         string `json:"subject"`
	Body            string `json:"body"`
	IncludeFormData bool   `json:"includeFormData,omitempty"`
	Enabled         bool   `json:"enabled"`
}

// StatusUpdate is a submit-time field write on an existing platform record.
type StatusUpdate struct {
	ID           string        `json:"id"`
	Entity       string        `json:"entity"`
	TargetField  string        `json:"targetField"`
	NewValue     string        `json:"newValue"`
	IDResolution *IDResolution `json:"idResolution,omitempty"`
	Enabled      bool          `json:"enabled"`
}

// FieldByID returns the field with the given ID.
func (c *ModalConfig) FieldByID(id string) (Field, bool) {
	for _, f := range c.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// StepByID returns the step with the given ID.
func (c *ModalConfig) StepByID(id string) (Step, bool) {
	for _, s := range c.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// FieldsForStep returns the fields assigned to the given step, preserving
// their order in Fields.
func (c *ModalConfig) FieldsForStep(stepID string) []Field {
	var out []Field
	for _, f := range c.Fields {
		if f.StepID == stepID {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns a deep copy of the config. Handlers mutate copies only;
// the stored value is replaced wholesale on save.
func (c *ModalConfig) Clone() (*ModalConfig, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("clone config: %w", err)
	}
	var out ModalConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone config: %w", err)
	}
	return &out, nil
}
