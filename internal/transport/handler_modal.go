package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/proposehq/formbff/internal/modal"
	"github.com/proposehq/formbff/model"
)

func handleListModals(svc *modal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		page := queryInt(r, "page", 1)
		pageSize := queryInt(r, "page_size", 25)

		modals, total, err := svc.List(r.Context(), rctx, page, pageSize)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"modals":    modals,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		})
	}
}

func handleGetModal(svc *modal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		stored, err := svc.Get(r.Context(), rctx, chi.URLParam(r, "modalId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stored)
	}
}

func handleCreateModal(svc *modal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var cfg *model.ModalConfig
		if r.ContentLength != 0 {
			cfg = &model.ModalConfig{}
			if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
				WriteError(w, model.NewBadRequestError("invalid JSON body"))
				return
			}
		}

		stored, err := svc.Create(r.Context(), rctx, cfg)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, stored)
	}
}

func handleUpdateModal(svc *modal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var cfg model.ModalConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		stored, err := svc.Update(r.Context(), rctx, chi.URLParam(r, "modalId"), &cfg)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stored)
	}
}

func handleDeleteModal(svc *modal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		if err := svc.Delete(r.Context(), rctx, chi.URLParam(r, "modalId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleValidateModal runs the config validator without saving anything.
// Validation issues are the response payload, not an error.
func handleValidateModal(svc *modal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg model.ModalConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		WriteJSON(w, http.StatusOK, svc.Validate(&cfg))
	}
}
