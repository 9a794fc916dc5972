package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mls-sync/internal/models"
	"github.com/mls-sync/internal/types"
)

// handleListSources handles GET /api/sources
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sources": s.sync.Sources(),
	})
}

// handleTriggerSync handles POST /api/sources/{source}/sync?mode=full|incremental.
// A run that started but failed still answers with its result, under 502.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	modeParam := r.URL.Query().Get("mode")
	if modeParam == "" {
		modeParam = string(types.SyncModeIncremental)
	}
	mode, ok := types.ParseSyncMode(modeParam)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "mode must be full or incremental", map[string]interface{}{
			"mode": modeParam,
		})
		return
	}

	result, err := s.sync.TriggerSync(r.Context(), source, mode)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, result)
}

// handleTestConnection handles GET /api/sources/{source}/connection
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	ok, err := s.sync.TestConnection(r.Context(), source)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"source":    source,
		"connected": ok,
	})
}

// handleSyncHistory handles GET /api/sync-history?source=&mode=&status=&since=&limit=&offset=
func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.SyncHistoryFilter{Source: q.Get("source")}
	if v := q.Get("mode"); v != "" {
		mode, ok := types.ParseSyncMode(v)
		if !ok {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "mode must be full or incremental", nil)
			return
		}
		filter.Mode = mode
	}
	if v := q.Get("status"); v != "" {
		status := types.RunStatus(v)
		if status != types.RunStatusInProgress && status != types.RunStatusSuccess && status != types.RunStatusFailed {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "status must be in_progress, success or failed", nil)
			return
		}
		filter.Status = status
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "since must be an RFC3339 timestamp", nil)
			return
		}
		filter.Since = &since
	}

	page, ok := parsePagination(w, r)
	if !ok {
		return
	}

	result, err := s.sync.GetSyncHistory(r.Context(), filter, page)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// parsePagination reads limit and offset; bounds are applied by the service
func parsePagination(w http.ResponseWriter, r *http.Request) (models.Pagination, bool) {
	var page models.Pagination
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be an integer", nil)
			return page, false
		}
		page.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "offset must be an integer", nil)
			return page, false
		}
		page.Offset = n
	}
	return page, true
}
