package submission

import (
	"context"
	"sort"
	"sync"

	"github.com/proposehq/formbff/model"
)

// MemoryLog is an in-memory submission log for development and tests.
type MemoryLog struct {
	mu       sync.RWMutex
	receipts map[string]model.SubmissionReceipt
}

// NewMemoryLog creates an empty in-memory submission log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{receipts: make(map[string]model.SubmissionReceipt)}
}

// Append persists a new receipt.
func (l *MemoryLog) Append(_ context.Context, receipt model.SubmissionReceipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts[receipt.ID] = receipt
	return nil
}

// Get retrieves a receipt by ID, scoped to a tenant.
func (l *MemoryLog) Get(_ context.Context, tenantID, receiptID string) (model.SubmissionReceipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.receipts[receiptID]
	if !ok || r.TenantID != tenantID {
		return model.SubmissionReceipt{}, model.NewNotFoundError("submission " + receiptID + " not found")
	}
	return r, nil
}

// ListByModal returns receipts for a modal, newest first.
func (l *MemoryLog) ListByModal(_ context.Context, tenantID, modalID string, limit, offset int) ([]model.SubmissionReceipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.SubmissionReceipt
	for _, r := range l.receipts {
		if r.TenantID == tenantID && r.ModalID == modalID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored receipts.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.receipts)
}

// HealthCheck satisfies the readiness checker interface.
func (l *MemoryLog) HealthCheck(context.Context) error { return nil }
