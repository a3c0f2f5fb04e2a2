package submission

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/proposehq/formbff/internal/modal"
	"github.com/proposehq/formbff/internal/platform"
	"github.com/proposehq/formbff/internal/rules"
	"github.com/proposehq/formbff/model"
)

// Platform is the subset of the platform client the executor needs.
// *platform.Client satisfies it.
type Platform interface {
	CreateRecord(ctx context.Context, rc *model.RequestContext, entity string, payload map[string]any) (string, error)
	UpdateRecord(ctx context.Context, rc *model.RequestContext, entity, id string, payload map[string]any) error
	SendEmail(ctx context.Context, rc *model.RequestContext, req platform.EmailRequest) error
}

// Request is one submission to execute.
type Request struct {
	ModalID        string
	Config         *model.ModalConfig
	Values         map[string]any
	IdempotencyKey string
}

// Metrics receives pipeline instrumentation. Satisfied by
// *observability.Metrics; a nil Metrics disables recording.
type Metrics interface {
	RecordSubmission(modalID, status string, duration time.Duration)
	RecordSubmissionInputFailure(modalID string)
	RecordEffectFailure(kind string)
}

// Deps wires the executor's collaborators. Idempotency and Metrics are
// optional; when Idempotency is nil every submission executes.
type Deps struct {
	Platform    Platform
	Webhooks    *WebhookDispatcher
	Log         Log
	Idempotency IdempotencyStore
	Validator   *modal.Validator
	Evaluator   rules.Evaluator
	IdemTTL     time.Duration
	Metrics     Metrics
}

// Executor runs the submission pipeline: config gate, input validation,
// idempotency check, entity operations, then the peripheral effects. Entity
// operations are the spine: a failure there rejects the submission and
// skips everything after it, while a peripheral failure only downgrades the
// outcome to partial.
type Executor struct {
	deps Deps
}

// NewExecutor creates a submission executor.
func NewExecutor(deps Deps) *Executor {
	if deps.IdemTTL <= 0 {
		deps.IdemTTL = 24 * time.Hour
	}
	return &Executor{deps: deps}
}

// Execute runs one submission end to end and returns its receipt. The
// receipt is the result: a rejected submission returns a receipt with
// Status rejected and the field errors, not an error. Errors are reserved
// for infrastructure failures (invalid config, idempotency conflicts,
// persistence).
func (e *Executor) Execute(ctx context.Context, rc *model.RequestContext, req Request) (model.SubmissionReceipt, error) {
	started := time.Now()

	if req.Config == nil {
		return model.SubmissionReceipt{}, model.NewConfigInvalidError("modal has no configuration")
	}
	if result := e.deps.Validator.Validate(req.Config); !result.IsValid {
		return model.SubmissionReceipt{}, model.NewConfigInvalidError(
			fmt.Sprintf("modal configuration is invalid (%d issues)", result.TotalIssues),
		)
	}

	inputHash := hashInput(req.Values)
	idemKey := ""
	if req.IdempotencyKey != "" && e.deps.Idempotency != nil {
		idemKey = FormatIdempotencyKey(req.ModalID, req.IdempotencyKey)
		cached, found, err := e.deps.Idempotency.Check(ctx, idemKey, inputHash)
		if err != nil {
			return model.SubmissionReceipt{}, err
		}
		if found {
			return *cached, nil
		}
	}

	receipt := model.SubmissionReceipt{
		ID:        uuid.NewString(),
		ModalID:   req.ModalID,
		TenantID:  rc.TenantID,
		SubjectID: rc.SubjectID,
		Status:    model.SubmissionCompleted,
		CreatedAt: time.Now().UTC(),
	}

	if fieldErrs := CheckInput(e.deps.Evaluator, req.Config, req.Values); len(fieldErrs) > 0 {
		receipt.Status = model.SubmissionRejected
		receipt.Errors = fieldErrs
		if e.deps.Metrics != nil {
			e.deps.Metrics.RecordSubmissionInputFailure(req.ModalID)
		}
		return e.finish(ctx, idemKey, inputHash, receipt, started)
	}

	resolver := &MappingResolver{Values: req.Values, Context: rc}

	entityOK := e.runEntityOperations(ctx, rc, req, resolver, &receipt)
	if entityOK {
		e.runWebhooks(ctx, rc, req, &receipt)
		e.runEmails(ctx, rc, req, &receipt)
		e.runStatusUpdates(ctx, rc, req, resolver, &receipt)
	} else {
		receipt.Status = model.SubmissionRejected
	}

	return e.finish(ctx, idemKey, inputHash, receipt, started)
}

// finish persists the receipt to the log and the idempotency store, and
// records the pipeline outcome. Idempotent replays never reach here, so
// each executed submission is counted once.
func (e *Executor) finish(ctx context.Context, idemKey, inputHash string, receipt model.SubmissionReceipt, started time.Time) (model.SubmissionReceipt, error) {
	if e.deps.Log != nil {
		if err := e.deps.Log.Append(ctx, receipt); err != nil {
			return model.SubmissionReceipt{}, fmt.Errorf("persist submission %s: %w", receipt.ID, err)
		}
	}
	if idemKey != "" {
		if err := e.deps.Idempotency.Store(ctx, idemKey, inputHash, receipt, e.deps.IdemTTL); err != nil {
			slog.Warn("failed to store idempotency entry",
				"key", idemKey, "submission_id", receipt.ID, "error", err)
		}
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordSubmission(receipt.ModalID, string(receipt.Status), time.Since(started))
	}
	return receipt, nil
}

func (e *Executor) recordEffectFailure(kind model.EffectKind) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordEffectFailure(string(kind))
	}
}

// runEntityOperations executes the configured operations plus any default
// operations carried by template-bound file fields. Returns false when an
// applicable operation failed; remaining operations are not attempted.
func (e *Executor) runEntityOperations(ctx context.Context, rc *model.RequestContext, req Request, resolver *MappingResolver, receipt *model.SubmissionReceipt) bool {
	ops := effectiveOperations(req.Config)

	for _, op := range ops {
		result := model.EffectResult{Kind: model.EffectEntityOperation, EffectID: op.ID}

		if !e.deps.Evaluator.EvaluateWithLogic(op.Conditions, op.ConditionLogic, req.Values) {
			result.Status = model.EffectSkipped
			receipt.Effects = append(receipt.Effects, result)
			continue
		}

		recordID, err := e.runOneOperation(ctx, rc, op, resolver)
		if err != nil {
			result.Status = model.EffectFailed
			result.Detail = err.Error()
			receipt.Effects = append(receipt.Effects, result)
			e.recordEffectFailure(result.Kind)
			slog.Error("entity operation failed",
				"modal_id", req.ModalID, "operation_id", op.ID,
				"entity", op.Entity, "error", err)
			return false
		}
		result.Status = model.EffectExecuted
		result.RecordID = recordID
		receipt.Effects = append(receipt.Effects, result)
	}
	return true
}

func (e *Executor) runOneOperation(ctx context.Context, rc *model.RequestContext, op model.EntityOperation, resolver *MappingResolver) (string, error) {
	payload, err := resolver.ResolveMappings(op.FieldMappings)
	if err != nil {
		return "", err
	}

	switch op.Type {
	case model.OperationCreate:
		return e.deps.Platform.CreateRecord(ctx, rc, op.Entity, payload)
	case model.OperationUpdate:
		recordID, err := resolver.ResolveRecordID(op.IDResolution)
		if err != nil {
			return "", err
		}
		if err := e.deps.Platform.UpdateRecord(ctx, rc, op.Entity, recordID, payload); err != nil {
			return "", err
		}
		return recordID, nil
	}
	return "", fmt.Errorf("unknown operation type %q", op.Type)
}

func (e *Executor) runWebhooks(ctx context.Context, rc *model.RequestContext, req Request, receipt *model.SubmissionReceipt) {
	if e.deps.Webhooks == nil {
		return
	}
	for _, hook := range req.Config.Webhooks {
		if !hook.Enabled {
			continue
		}
		result := model.EffectResult{Kind: model.EffectWebhook, EffectID: hook.ID}
		if err := e.deps.Webhooks.Dispatch(ctx, hook, req.ModalID, req.Values, rc); err != nil {
			result.Status = model.EffectFailed
			result.Detail = err.Error()
			receipt.Status = model.SubmissionPartial
			e.recordEffectFailure(result.Kind)
			slog.Warn("webhook dispatch failed",
				"modal_id", req.ModalID, "webhook_id", hook.ID, "error", err)
		} else {
			result.Status = model.EffectExecuted
		}
		receipt.Effects = append(receipt.Effects, result)
	}
}

func (e *Executor) runEmails(ctx context.Context, rc *model.RequestContext, req Request, receipt *model.SubmissionReceipt) {
	for _, email := range req.Config.EmailNotifications {
		if !email.Enabled {
			continue
		}
		result := model.EffectResult{Kind: model.EffectEmail, EffectID: email.ID}

		body := email.Body
		if email.IncludeFormData {
			if data, err := json.MarshalIndent(req.Values, "", "  "); err == nil {
				body += "\n\n" + string(data)
			}
		}
		err := e.deps.Platform.SendEmail(ctx, rc, platform.EmailRequest{
			To:       email.To,
			FromName: email.FromName,
			Subject:  email.Subject,
			Body:     body,
		})
		if err != nil {
			result.Status = model.EffectFailed
			result.Detail = err.Error()
			receipt.Status = model.SubmissionPartial
			e.recordEffectFailure(result.Kind)
			slog.Warn("email notification failed",
				"modal_id", req.ModalID, "email_id", email.ID, "error", err)
		} else {
			result.Status = model.EffectExecuted
		}
		receipt.Effects = append(receipt.Effects, result)
	}
}

func (e *Executor) runStatusUpdates(ctx context.Context, rc *model.RequestContext, req Request, resolver *MappingResolver, receipt *model.SubmissionReceipt) {
	for _, upd := range req.Config.StatusUpdates {
		if !upd.Enabled {
			continue
		}
		result := model.EffectResult{Kind: model.EffectStatusUpdate, EffectID: upd.ID}

		err := e.runOneStatusUpdate(ctx, rc, upd, resolver)
		if err != nil {
			result.Status = model.EffectFailed
			result.Detail = err.Error()
			receipt.Status = model.SubmissionPartial
			e.recordEffectFailure(result.Kind)
			slog.Warn("status update failed",
				"modal_id", req.ModalID, "status_update_id", upd.ID,
				"entity", upd.Entity, "error", err)
		} else {
			result.Status = model.EffectExecuted
		}
		receipt.Effects = append(receipt.Effects, result)
	}
}

func (e *Executor) runOneStatusUpdate(ctx context.Context, rc *model.RequestContext, upd model.StatusUpdate, resolver *MappingResolver) error {
	if upd.TargetField == "" {
		return fmt.Errorf("status update %s has no target field", upd.ID)
	}
	recordID, err := resolver.ResolveRecordID(upd.IDResolution)
	if err != nil {
		return err
	}
	return e.deps.Platform.UpdateRecord(ctx, rc, upd.Entity, recordID,
		map[string]any{upd.TargetField: upd.NewValue})
}

// effectiveOperations returns the configured entity operations followed by
// the default operations of template-bound file fields.
func effectiveOperations(cfg *model.ModalConfig) []model.EntityOperation {
	ops := append([]model.EntityOperation(nil), cfg.EntityOperations...)
	for _, f := range cfg.Fields {
		if f.Type == model.FieldFile && f.Template != nil {
			ops = append(ops, f.Template.DefaultOperations...)
		}
	}
	return ops
}

// hashInput produces a deterministic digest of the submitted values.
// encoding/json sorts map keys, so equal value sets hash equally.
func hashInput(values map[string]any) string {
	data, err := json.Marshal(values)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", values))
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
