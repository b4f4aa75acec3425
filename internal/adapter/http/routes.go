package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/decisiongate/internal/domain/coordination"
	"github.com/Strob0t/decisiongate/internal/domain/criteria"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
	"github.com/Strob0t/decisiongate/internal/middleware"
	"github.com/Strob0t/decisiongate/internal/service"
)

// MountRoutes registers all API routes on the given chi router. When apiKey
// is set, state-changing /api/v1 requests must carry it in X-API-Key.
func MountRoutes(r chi.Router, h *Handlers, apiKey string) {
	r.Get("/health", h.Health)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(apiKey))

		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Candidates and actions
		r.Post("/candidates", h.SubmitCandidates)
		r.Get("/actions", h.ListActions)
		r.Get("/actions/{id}", handleGet(h.Engine.Executor.Get, "action not found"))
		r.Post("/actions/{id}/cancel", h.CancelAction)
		r.Get("/lanes", h.LaneStats)

		// Thresholds and outcomes
		r.Get("/thresholds", h.ListThresholds)
		r.Put("/thresholds/{capability}/{level}", h.SetThresholdOverride)
		r.Post("/outcomes", h.RecordOutcome)
		r.Get("/performance", handleList(func(*http.Request) []outcome.Summary {
			return h.Engine.Thresholds.PerformanceSummary()
		}))

		// Criteria
		r.Get("/criteria", handleList(func(*http.Request) []criteria.KeyedSet {
			return h.Engine.Evaluator.Sets()
		}))
		r.Put("/criteria/{capability}", h.UpdateCriteria)

		// Coordination
		r.Get("/coordination/rules", handleList(func(*http.Request) []coordination.Rule {
			return h.Engine.Coordination.Rules()
		}))
		r.Post("/coordination/{trigger}", h.RunCoordination)
		r.Get("/coordination/events", h.ListCoordinationEvents)
		r.Get("/schedules", handleList(func(*http.Request) []service.JobInfo {
			return h.Engine.Scheduler.Jobs()
		}))

		// Emergency protocol
		r.Get("/emergency", h.EmergencyStatus)
		r.Post("/emergency/trip", h.TripEmergency)
		r.Post("/emergency/reset", h.ResetEmergency)
	})
}
