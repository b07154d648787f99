package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"brokeronboard/application"
	"brokeronboard/auth"
	"brokeronboard/broker"
	"brokeronboard/interview"
)

var errBadRequest = errors.New("malformed request body")

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable is checked in order; the first match wins.
var errorTable = []errorMapping{
	{application.ErrNotFound, http.StatusNotFound, "application_not_found"},
	{interview.ErrApplicationNotFound, http.StatusNotFound, "application_not_found"},
	{interview.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{broker.ErrNotFound, http.StatusNotFound, "broker_not_found"},

	{application.ErrDuplicatePhone, http.StatusConflict, "duplicate_phone"},
	{auth.ErrDuplicatePhone, http.StatusConflict, "duplicate_phone"},
	{interview.ErrSessionComplete, http.StatusConflict, "session_complete"},
	{interview.ErrApplicationClosed, http.StatusConflict, "application_closed"},
	{interview.ErrConcurrentTurn, http.StatusConflict, "concurrent_turn"},
	{interview.ErrActiveSessionExists, http.StatusConflict, "active_session_exists"},

	{errBadRequest, http.StatusBadRequest, "invalid_input"},
	{application.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{interview.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{auth.ErrInvalidRequest, http.StatusBadRequest, "invalid_input"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "weak_password"},

	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},

	{interview.ErrInterviewerUnavailable, http.StatusServiceUnavailable, "interviewer_unavailable"},
	{interview.ErrConversionFailed, http.StatusInternalServerError, "conversion_failed"},
}

func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeError maps err onto the JSON error envelope. Unexpected failures are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && code != "interviewer_unavailable" {
		s.logger().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
		message = "internal server error"
		if code == "conversion_failed" {
			message = "broker account could not be created"
		}
	}
	writeErrorMessage(w, status, code, message)
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Message: message, Code: code}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
