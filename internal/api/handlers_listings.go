package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mls-sync/internal/types"
)

// handleListListings handles GET /api/sources/{source}/listings?status=&limit=&offset=
func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	page, ok := parsePagination(w, r)
	if !ok {
		return
	}

	status := types.LifecycleStatus(r.URL.Query().Get("status"))
	result, err := s.sync.ListListings(r.Context(), source, status, page)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleGetListing handles GET /api/sources/{source}/listings/{key}
func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	listing, err := s.sync.GetListing(r.Context(), vars["source"], vars["key"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

// handleListAgents handles GET /api/sources/{source}/agents?limit=&offset=
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	page, ok := parsePagination(w, r)
	if !ok {
		return
	}

	result, err := s.sync.ListAgents(r.Context(), source, page)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleGetAgent handles GET /api/sources/{source}/agents/{key}
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	agent, err := s.sync.GetAgent(r.Context(), vars["source"], vars["key"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}
