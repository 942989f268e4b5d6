package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/timerly-core/internal/audit"
)

type timerTypeRequest struct {
	Option string `json:"option"`
}

// handleGetTimerType returns the selected timer type and its options.
func (s *Server) handleGetTimerType(w http.ResponseWriter, _ *http.Request) {
	sel := s.app.TimerType()
	writeJSON(w, http.StatusOK, map[string]any{
		"option":  sel.Current(),
		"options": sel.Options(),
	})
}

// handleSetTimerType changes and persists the selected timer type.
func (s *Server) handleSetTimerType(w http.ResponseWriter, r *http.Request) {
	var req timerTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sel := s.app.TimerType()
	previous := sel.Current()
	err := sel.Select(r.Context(), req.Option)
	s.auditLog(audit.ActionTimerType, req.Option, err, map[string]any{"previous": previous})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"option":  sel.Current(),
		"options": sel.Options(),
	})
}
