package transport

import (
	"encoding/json"
	"net/http"

	"github.com/proposehq/formbff/internal/assist"
	"github.com/proposehq/formbff/model"
)

func handleSuggestFields(svc *assist.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var req assist.SuggestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		suggestions, err := svc.Suggest(r.Context(), rctx, req)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"fields": suggestions})
	}
}
