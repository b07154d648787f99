package main

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"brokeronboard/auth"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

const serviceKeyHeader = "X-Service-Key"

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, _ := r.Context().Value(ctxKeyRole).(auth.Role); got != role {
				writeErrorMessage(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requireServiceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.serviceKey != "" {
			got := r.Header.Get(serviceKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.serviceKey)) != 1 {
				writeErrorMessage(w, http.StatusUnauthorized, "unauthorized", "invalid service key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
