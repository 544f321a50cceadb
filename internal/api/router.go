package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metricsHandler())

		// WebSocket authenticates with a ticket, not the bearer token.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleWhoAmI)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/wizard", func(r chi.Router) {
				r.Get("/", s.handleWizardState)
				r.Post("/mount", s.handleWizardMount)
				r.Post("/resume", s.handleWizardResume)
				r.Post("/discard", s.handleWizardDiscard)
				r.Post("/next", s.handleWizardNext)
				r.Post("/back", s.handleWizardBack)
				r.Post("/back-gesture", s.handleWizardBackGesture)
				r.Post("/exit", s.handleWizardExit)
				r.Post("/exit/confirm", s.handleWizardConfirmExit)
				r.Post("/exit/cancel", s.handleWizardCancelExit)
				r.Patch("/form", s.handleWizardUpdateForm)
				r.Put("/device-id", s.handleWizardDeviceID)
				r.Post("/verify", s.handleWizardVerify)
				r.Post("/wifi", s.handleWizardWiFi)
				r.Post("/preferences", s.handleWizardPreferences)
			})

			r.Route("/devices/{id}", func(r chi.Router) {
				r.Get("/availability", s.handleDeviceAvailability)
				r.Get("/config", s.handleGetDeviceConfig)
				r.Patch("/config", s.handleUpdateDeviceConfig)
				r.Post("/wifi", s.handleSaveDeviceWiFi)
			})
		})
	})

	return r
}

// handleHealth reports the server and its dependencies. Any failing
// dependency turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"checks":  checks,
	})
}
