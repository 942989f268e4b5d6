package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/timerly-core/internal/audit"
	"github.com/nerrad567/timerly-core/internal/integration"
)

// handleListServices returns the callable service names.
func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"services": integration.Services(),
	})
}

// handleCallService runs a service with the request body as its data.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	err = s.app.CallService(r.Context(), service, body)
	s.auditLog(audit.ActionService, service, err, nil)
	if err != nil {
		s.logger.Warn("service call failed",
			"service", service,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": service,
	})
}
