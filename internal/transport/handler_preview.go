package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/proposehq/formbff/internal/modal"
	"github.com/proposehq/formbff/internal/preview"
	"github.com/proposehq/formbff/model"
)

// startPreviewRequest starts a preview from an inline config (unsaved
// builder state) or, when the config is omitted, from the stored modal.
type startPreviewRequest struct {
	ModalID string             `json:"modal_id"`
	Config  *model.ModalConfig `json:"config,omitempty"`
}

func handleStartPreview(mgr *preview.Manager, modals *modal.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var req startPreviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		cfg := req.Config
		if cfg == nil {
			if req.ModalID == "" {
				WriteError(w, model.NewBadRequestError("either config or modal_id is required"))
				return
			}
			stored, err := modals.Get(r.Context(), rctx, req.ModalID)
			if err != nil {
				WriteError(w, err)
				return
			}
			cfg = stored.Config
		}

		state, err := mgr.Start(r.Context(), *rctx, req.ModalID, cfg)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, state)
	}
}

func handleGetPreview(mgr *preview.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		state, err := mgr.Get(r.Context(), *rctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

func handleSetPreviewValues(mgr *preview.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			Values map[string]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		state, err := mgr.SetValues(r.Context(), *rctx, chi.URLParam(r, "sessionId"), body.Values)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

func handleAdvancePreview(mgr *preview.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		state, err := mgr.Advance(r.Context(), *rctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

func handleBackPreview(mgr *preview.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		state, err := mgr.Back(r.Context(), *rctx, chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

func handleEndPreview(mgr *preview.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		if err := mgr.End(r.Context(), *rctx, chi.URLParam(r, "sessionId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
