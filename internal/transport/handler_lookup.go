package transport

import (
	"net/http"

	"github.com/proposehq/formbff/internal/lookup"
	"github.com/proposehq/formbff/model"
)

func handleLookup(provider *lookup.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		q := r.URL.Query()
		req := lookup.Request{
			Entity:     q.Get("entity"),
			LabelField: q.Get("label_field"),
			ValueField: q.Get("value_field"),
			Query:      q.Get("q"),
		}

		resp, err := provider.Options(r.Context(), rctx, req)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
