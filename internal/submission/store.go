package submission

import (
	"context"

	"github.com/proposehq/formbff/model"
)

// Log persists submission receipts: the durable audit trail of what a
// submission wrote and which effects ran.
type Log interface {
	// Append persists a new receipt.
	Append(ctx context.Context, receipt model.SubmissionReceipt) error

	// Get retrieves a receipt by ID, scoped to a tenant. Returns NOT_FOUND
	// if the receipt doesn't exist or belongs to a different tenant.
	Get(ctx context.Context, tenantID, receiptID string) (model.SubmissionReceipt, error)

	// ListByModal returns receipts for a modal, newest first.
	ListByModal(ctx context.Context, tenantID, modalID string, limit, offset int) ([]model.SubmissionReceipt, error)
}
