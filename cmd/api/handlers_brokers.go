package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleBroker(w http.ResponseWriter, r *http.Request) {
	profile, err := s.brokerService.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBrokerResponse(profile))
}

func (s *Server) handleBrokers(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	profiles, err := s.brokerService.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]brokerResponse, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, toBrokerResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}
