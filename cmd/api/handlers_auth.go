package main

import (
	"net/http"

	"brokeronboard/auth"
)

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: toUserResponse(res.User)})
}

func (s *Server) handleRegisterSupervisor(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Role = auth.RoleSupervisor

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}
