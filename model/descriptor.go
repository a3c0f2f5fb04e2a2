package model

import "time"

// PreviewState is the live-preview session view returned to the frontend
// after every session mutation. VisibleFields is the projected field subset
// for the current step under the current values.
type PreviewState struct {
	SessionID     string         `json:"session_id"`
	ModalID       string         `json:"modal_id"`
	StepIndex     int            `json:"step_index"`
	StepCount     int            `json:"step_count"`
	CurrentStep   *Step          `json:"current_step,omitempty"`
	VisibleFields []Field        `json:"visible_fields"`
	Values        map[string]any `json:"values"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// EffectKind labels the kind of submit-time side effect a result refers to.
type EffectKind string

const (
	EffectEntityOperation EffectKind = "entity_operation"
	EffectWebhook         EffectKind = "webhook"
	EffectEmail           EffectKind = "email"
	EffectStatusUpdate    EffectKind = "status_update"
)

// EffectStatus labels the outcome of a single side effect.
type EffectStatus string

const (
	EffectExecuted EffectStatus = "executed"
	EffectSkipped  EffectStatus = "skipped"
	EffectFailed   EffectStatus = "failed"
)

// EffectResult describes the outcome of one submit-time side effect.
type EffectResult struct {
	Kind     EffectKind   `json:"kind"`
	EffectID string       `json:"effect_id"`
	Status   EffectStatus `json:"status"`
	RecordID string       `json:"record_id,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

// SubmissionStatus labels the overall outcome of a submission.
type SubmissionStatus string

const (
	// SubmissionCompleted means every applicable effect executed.
	SubmissionCompleted SubmissionStatus = "completed"
	// SubmissionPartial means entity operations succeeded but at least one
	// peripheral effect (webhook, email, status update) failed.
	SubmissionPartial SubmissionStatus = "partial"
	// SubmissionRejected means input validation or an entity operation
	// failed; nothing after the failure point was executed.
	SubmissionRejected SubmissionStatus = "rejected"
)

// SubmissionReceipt is the durable record of one form submission.
type SubmissionReceipt struct {
	ID        string           `json:"id"`
	ModalID   string           `json:"modal_id"`
	TenantID  string           `json:"tenant_id"`
	SubjectID string           `json:"subject_id"`
	Status    SubmissionStatus `json:"status"`
	Effects   []EffectResult   `json:"effects,omitempty"`
	Errors    []FieldError     `json:"errors,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// RecordPage is one page of records from a management screen listing.
type RecordPage struct {
	Items    []map[string]any `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// SuggestedField is one AI-proposed field for the builder.
type SuggestedField struct {
	Type     FieldType `json:"type"`
	Label    string    `json:"label"`
	HelpText string    `json:"help_text,omitempty"`
	Required bool      `json:"required,omitempty"`
	Options  []Option  `json:"options,omitempty"`
}
