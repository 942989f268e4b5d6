package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/timerly-core/internal/discovery"
)

// deviceResponse is a discovered device as returned by the API.
type deviceResponse struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	URL      string `json:"url"`
	UniqueID string `json:"unique_id"`
	EntityID string `json:"entity_id"`
	LastSeen string `json:"last_seen"`
}

// addDeviceRequest is the body of POST /devices.
type addDeviceRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func toDeviceResponse(e discovery.Entry) deviceResponse {
	d := e.Device
	return deviceResponse{
		Name:     d.Name,
		Address:  d.Address,
		Port:     d.Port,
		URL:      d.URL("/"),
		UniqueID: d.UniqueID,
		EntityID: d.EntityID(),
		LastSeen: e.LastSeen.UTC().Format(timeFormat),
	}
}

// handleListDevices returns every device in the discovery cache.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	entries := s.app.Devices()
	out := make([]deviceResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toDeviceResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one cached device by cleaned name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	e, ok := s.app.Device(name)
	if !ok {
		writeNotFound(w, "device not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(e))
}

// handleAddDevice injects a manual discovery announcement. The event is
// processed asynchronously.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ev := discovery.Added(req.Name, req.Address, req.Port, "api")
	if err := s.app.Submit(ev); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"name":   ev.CleanName(),
	})
}

// handleRemoveDevice submits a removal for a cached device.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	e, ok := s.app.Device(name)
	if !ok {
		writeNotFound(w, "device not found: "+name)
		return
	}

	if err := s.app.Submit(discovery.Removed(e.Device.Name, "api")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"name":   e.Device.Name,
	})
}

// handleReconcile runs one reconciliation pass.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.Reconcile(r.Context())
	if err != nil {
		s.logger.Warn("reconcile reported errors", "error", err, "added", n)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": n})
}
