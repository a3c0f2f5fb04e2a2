package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proposehq/formbff/model"
)

// PostgresLog persists submission receipts in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE IF NOT EXISTS submissions (
//	    id         TEXT PRIMARY KEY,
//	    modal_id   TEXT NOT NULL,
//	    tenant_id  TEXT NOT NULL,
//	    subject_id TEXT NOT NULL,
//	    status     TEXT NOT NULL,
//	    effects    JSONB NOT NULL DEFAULT '[]',
//	    errors     JSONB NOT NULL DEFAULT '[]',
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX IF NOT EXISTS submissions_modal_idx
//	    ON submissions (tenant_id, modal_id, created_at DESC);
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog creates a submission log backed by the given pool.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

// HealthCheck satisfies the readiness checker interface.
func (l *PostgresLog) HealthCheck(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Append persists a new receipt.
func (l *PostgresLog) Append(ctx context.Context, receipt model.SubmissionReceipt) error {
	effects, err := json.Marshal(receipt.Effects)
	if err != nil {
		return fmt.Errorf("marshal effects: %w", err)
	}
	fieldErrs, err := json.Marshal(receipt.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO submissions (id, modal_id, tenant_id, subject_id, status, effects, errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		receipt.ID, receipt.ModalID, receipt.TenantID, receipt.SubjectID,
		string(receipt.Status), effects, fieldErrs, receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Get retrieves a receipt by ID, scoped to a tenant.
func (l *PostgresLog) Get(ctx context.Context, tenantID, receiptID string) (model.SubmissionReceipt, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT id, modal_id, tenant_id, subject_id, status, effects, errors, created_at
		FROM submissions
		WHERE id = $1 AND tenant_id = $2`,
		receiptID, tenantID,
	)
	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SubmissionReceipt{}, model.NewNotFoundError("submission " + receiptID + " not found")
		}
		return model.SubmissionReceipt{}, fmt.Errorf("query submission: %w", err)
	}
	return receipt, nil
}

// ListByModal returns receipts for a modal, newest first.
func (l *PostgresLog) ListByModal(ctx context.Context, tenantID, modalID string, limit, offset int) ([]model.SubmissionReceipt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx, `
		SELECT id, modal_id, tenant_id, subject_id, status, effects, errors, created_at
		FROM submissions
		WHERE tenant_id = $1 AND modal_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		tenantID, modalID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []model.SubmissionReceipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

func scanReceipt(row pgx.Row) (model.SubmissionReceipt, error) {
	var (
		receipt   model.SubmissionReceipt
		status    string
		effects   []byte
		fieldErrs []byte
	)
	err := row.Scan(
		&receipt.ID, &receipt.ModalID, &receipt.TenantID, &receipt.SubjectID,
		&status, &effects, &fieldErrs, &receipt.CreatedAt,
	)
	if err != nil {
		return model.SubmissionReceipt{}, err
	}
	receipt.Status = model.SubmissionStatus(status)
	if len(effects) > 0 {
		if err := json.Unmarshal(effects, &receipt.Effects); err != nil {
			return model.SubmissionReceipt{}, fmt.Errorf("unmarshal effects: %w", err)
		}
	}
	if len(fieldErrs) > 0 {
		if err := json.Unmarshal(fieldErrs, &receipt.Errors); err != nil {
			return model.SubmissionReceipt{}, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	return receipt, nil
}
