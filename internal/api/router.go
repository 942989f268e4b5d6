package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

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
		r.Get("/metrics", s.handleMetrics)

		// Read-only endpoints
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{name}", s.handleGetDevice)
		r.Get("/entities", s.handleListEntities)
		r.Get("/entities/{uniqueID}", s.handleGetEntity)
		r.Get("/entities/{uniqueID}/history", s.handleEntityHistory)
		r.Get("/services", s.handleListServices)
		r.Get("/timer-type", s.handleGetTimerType)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/audit", s.handleListAuditLogs)

			r.Post("/devices", s.handleAddDevice)
			r.Delete("/devices/{name}", s.handleRemoveDevice)
			r.Post("/reconcile", s.handleReconcile)
			r.Post("/entities/{uniqueID}/refresh", s.handleRefreshEntity)
			r.Post("/services/{service}", s.handleCallService)
			r.Put("/timer-type", s.handleSetTimerType)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
