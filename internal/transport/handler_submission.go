package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/proposehq/formbff/internal/modal"
	"github.com/proposehq/formbff/internal/submission"
	"github.com/proposehq/formbff/model"
)

type submitRequest struct {
	Values         map[string]any `json:"values"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

func handleSubmit(executor *submission.Executor, modals *modal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		modalID := chi.URLParam(r, "modalId")

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		// Allow idempotency key from header as fallback.
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = r.Header.Get("Idempotency-Key")
		}

		stored, err := modals.Get(r.Context(), rctx, modalID)
		if err != nil {
			WriteError(w, err)
			return
		}

		receipt, err := executor.Execute(r.Context(), rctx, submission.Request{
			ModalID:        modalID,
			Config:         stored.Config,
			Values:         req.Values,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			WriteError(w, err)
			return
		}

		// The receipt is the result either way; rejected submissions carry
		// their field errors in it.
		status := http.StatusCreated
		if receipt.Status == model.SubmissionRejected {
			status = http.StatusUnprocessableEntity
		}
		WriteJSON(w, status, receipt)
	}
}

func handleListSubmissions(log submission.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		modalID := chi.URLParam(r, "modalId")

		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)

		receipts, err := log.ListByModal(r.Context(), rctx.TenantID, modalID, limit, offset)
		if err != nil {
			WriteError(w, err)
			return
		}
		if receipts == nil {
			receipts = []model.SubmissionReceipt{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"submissions": receipts,
			"limit":       limit,
			"offset":      offset,
		})
	}
}

func handleGetSubmission(log submission.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		receipt, err := log.Get(r.Context(), rctx.TenantID, chi.URLParam(r, "receiptId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, receipt)
	}
}
