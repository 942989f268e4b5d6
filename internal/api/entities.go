package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/timerly-core/internal/entity"
)

// timeFormat is used for every timestamp the API renders itself.
const timeFormat = time.RFC3339

// entityResponse is an entity state plus coordinator and registry details.
type entityResponse struct {
	entity.State
	LastUpdateSuccess   bool     `json:"last_update_success"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	LastError           string   `json:"last_error,omitempty"`
	LastPoll            *string  `json:"last_poll,omitempty"`
	TrackedEndTime      *string  `json:"tracked_end_time,omitempty"`
	NextEndRefresh      *string  `json:"next_end_refresh,omitempty"`
	ScheduledJobs       []string `json:"scheduled_jobs"`
	FirstSeenAt         *string  `json:"first_seen_at,omitempty"`
	LastSeenAt          *string  `json:"last_seen_at,omitempty"`
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	v := t.UTC().Format(timeFormat)
	return &v
}

func (s *Server) toEntityResponse(r *http.Request, e *entity.TimerEntity, records map[string]entity.Record) entityResponse {
	c := e.Coordinator()
	resp := entityResponse{
		State:               e.Snapshot(),
		LastUpdateSuccess:   c.LastUpdateSuccess(),
		ConsecutiveFailures: c.ConsecutiveFailures(),
		LastPoll:            formatTime(c.LastPoll().At),
		ScheduledJobs:       c.ScheduledJobs(),
	}
	if err := c.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if end, ok := c.ScheduledEndTime(); ok {
		resp.TrackedEndTime = formatTime(end)
	}
	if at, ok := c.NextEndRefresh(); ok {
		resp.NextEndRefresh = formatTime(at)
	}

	rec, ok := records[e.UniqueID()]
	if !ok && records == nil && s.registry != nil {
		if got, err := s.registry.Get(r.Context(), e.UniqueID()); err == nil {
			rec, ok = *got, true
		}
	}
	if ok {
		resp.FirstSeenAt = formatTime(rec.FirstSeenAt)
		resp.LastSeenAt = formatTime(rec.LastSeenAt)
	}
	return resp
}

// entity looks up an entity by the uniqueID URL parameter.
func (s *Server) entity(w http.ResponseWriter, r *http.Request) (*entity.TimerEntity, bool) {
	uniqueID := chi.URLParam(r, "uniqueID")
	coll := s.app.Collection()
	if coll == nil {
		writeNotFound(w, "entity not found: "+uniqueID)
		return nil, false
	}
	e, ok := coll.Get(uniqueID)
	if !ok {
		writeNotFound(w, "entity not found: "+uniqueID)
		return nil, false
	}
	return e, true
}

// handleListEntities returns every exposed timer entity.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	var list []*entity.TimerEntity
	if coll := s.app.Collection(); coll != nil {
		list = coll.List()
	}

	records := map[string]entity.Record{}
	if s.registry != nil {
		recs, err := s.registry.List(r.Context())
		if err != nil {
			s.logger.Warn("listing entity registry failed", "error", err)
		}
		for _, rec := range recs {
			records[rec.UniqueID] = rec
		}
	}

	out := make([]entityResponse, 0, len(list))
	for _, e := range list {
		out = append(out, s.toEntityResponse(r, e, records))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": out,
		"count":    len(out),
	})
}

// handleGetEntity returns one entity by unique ID.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.toEntityResponse(r, e, nil))
}

// handleRefreshEntity polls the entity's device immediately.
func (s *Server) handleRefreshEntity(w http.ResponseWriter, r *http.Request) {
	uniqueID := chi.URLParam(r, "uniqueID")
	if err := s.app.RefreshEntity(r.Context(), uniqueID); err != nil {
		writeDomainError(w, err)
		return
	}

	e, ok := s.entity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.toEntityResponse(r, e, nil))
}

// defaultHistoryLimit applies when ?limit is absent.
const defaultHistoryLimit = 50

// handleEntityHistory returns recorded state changes, newest first.
func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history is not enabled")
		return
	}
	uniqueID := chi.URLParam(r, "uniqueID")

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), uniqueID, limit)
	if err != nil {
		s.logger.Error("reading entity history failed", "unique_id", uniqueID, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	if entries == nil {
		entries = []entity.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unique_id": uniqueID,
		"history":   entries,
		"count":     len(entries),
	})
}
