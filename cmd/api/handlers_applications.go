package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"brokeronboard/application"
)

type createApplicationRequest struct {
	Phone            string   `json:"phone"`
	Name             string   `json:"name"`
	Email            *string  `json:"email"`
	Password         string   `json:"password"`
	RequestedAreaIDs []string `json:"requestedAreaIds"`
}

type createApplicationResponse struct {
	ApplicationID string             `json:"applicationId"`
	Status        application.Status `json:"status"`
	CreatedAt     string             `json:"createdAt"`
}

func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	app, err := s.applications.Create(r.Context(), application.CreateParams{
		Phone:    req.Phone,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		AreaIDs:  req.RequestedAreaIDs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createApplicationResponse{
		ApplicationID: app.ID,
		Status:        app.Status,
		CreatedAt:     formatTime(app.CreatedAt),
	})
}

func (s *Server) handleApplicationStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.applications.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := application.Filters{Status: application.Status(strings.TrimSpace(q.Get("status")))}
	var err error
	if filters.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filters.Offset, err = intParam(q.Get("offset")); err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.applications.List(r.Context(), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]applicationResponse, 0, len(page.Items))
	for _, app := range page.Items {
		items = append(items, toApplicationResponse(app))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": page.Total})
}

func (s *Server) handleApplicationDetails(w http.ResponseWriter, r *http.Request) {
	details, err := s.interviews.ApplicationDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sessions := make([]sessionResponse, 0, len(details.Sessions))
	for _, sd := range details.Sessions {
		sessions = append(sessions, toSessionDetails(sd))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"application": toApplicationResponse(details.Application),
		"sessions":    sessions,
	})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, application.ErrInvalidInput
	}
	return v, nil
}
