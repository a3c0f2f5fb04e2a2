package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/proposehq/formbff/internal/assist"
	"github.com/proposehq/formbff/internal/config"
	"github.com/proposehq/formbff/internal/lookup"
	"github.com/proposehq/formbff/internal/modal"
	"github.com/proposehq/formbff/internal/observability"
	"github.com/proposehq/formbff/internal/preview"
	"github.com/proposehq/formbff/internal/records"
	"github.com/proposehq/formbff/internal/submission"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver CapabilityResolver

	Modals        *modal.Service
	Preview       *preview.Manager
	Submissions   *submission.Executor
	SubmissionLog submission.Log
	Records       *records.Service
	Lookups       *lookup.Provider
	Assist        *assist.Service

	Metrics *observability.Metrics
	Ready   http.HandlerFunc
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/health", observability.HandleHealth())
	ready := deps.Ready
	if ready == nil {
		ready = func(w http.ResponseWriter, _ *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		}
	}
	r.Get("/ready", ready)
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(ResolveCapabilities(deps.CapabilityResolver))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}
		if deps.Config.Observability.Tracing.Enabled {
			r.Use(observability.TracingMiddleware)
		}

		// Modal configuration CRUD and validation.
		r.Route("/api/modals", func(r chi.Router) {
			r.With(RequireCapability("modals:view")).Get("/", handleListModals(deps.Modals))
			r.With(RequireCapability("modals:edit")).Post("/", handleCreateModal(deps.Modals))
			r.With(RequireCapability("modals:validate")).Post("/validate", handleValidateModal(deps.Modals))

			r.Route("/{modalId}", func(r chi.Router) {
				r.With(RequireCapability("modals:view")).Get("/", handleGetModal(deps.Modals))
				r.With(RequireCapability("modals:edit")).Put("/", handleUpdateModal(deps.Modals))
				r.With(RequireCapability("modals:edit")).Delete("/", handleDeleteModal(deps.Modals))

				r.With(RequireCapability("submissions:create")).
					Post("/submissions", handleSubmit(deps.Submissions, deps.Modals))
				r.With(RequireCapability("submissions:view")).
					Get("/submissions", handleListSubmissions(deps.SubmissionLog))
			})
		})

		r.With(RequireCapability("submissions:view")).
			Get("/api/submissions/{receiptId}", handleGetSubmission(deps.SubmissionLog))

		// Live preview sessions.
		r.Route("/api/preview/sessions", func(r chi.Router) {
			r.Use(RequireCapability("preview:run"))
			r.Post("/", handleStartPreview(deps.Preview, deps.Modals))
			r.Route("/{sessionId}", func(r chi.Router) {
				r.Get("/", handleGetPreview(deps.Preview))
				r.Patch("/values", handleSetPreviewValues(deps.Preview))
				r.Post("/advance", handleAdvancePreview(deps.Preview))
				r.Post("/back", handleBackPreview(deps.Preview))
				r.Delete("/", handleEndPreview(deps.Preview))
			})
		})

		// Management record screens.
		for _, screen := range records.Screens() {
			r.Route("/api/"+screen, func(r chi.Router) {
				r.With(RequireCapability("records:view")).Get("/", handleListRecords(deps.Records, screen))
				r.With(RequireCapability("records:edit")).Post("/", handleCreateRecord(deps.Records, screen))
				r.Route("/{recordId}", func(r chi.Router) {
					r.With(RequireCapability("records:view")).Get("/", handleGetRecord(deps.Records, screen))
					r.With(RequireCapability("records:edit")).Put("/", handleUpdateRecord(deps.Records, screen))
					r.With(RequireCapability("records:edit")).Delete("/", handleDeleteRecord(deps.Records, screen))
				})
			})
		}

		// Reference data lookups.
		r.With(RequireCapability("modals:view")).Get("/api/lookups", handleLookup(deps.Lookups))

		// AI field suggestions.
		r.With(RequireCapability("assist:suggest")).Post("/api/assist/suggest", handleSuggestFields(deps.Assist))
	})

	return r
}
