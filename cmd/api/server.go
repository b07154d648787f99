package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"brokeronboard/application"
	"brokeronboard/auth"
	"brokeronboard/broker"
	"brokeronboard/interview"
	"brokeronboard/logger"
)

type applicationService interface {
	Create(ctx context.Context, params application.CreateParams) (application.Application, error)
	GetStatus(ctx context.Context, id string) (application.StatusView, error)
	List(ctx context.Context, filters application.Filters) (application.Page, error)
}

type interviewService interface {
	Start(ctx context.Context, applicationID string) (interview.StartResult, error)
	Submit(ctx context.Context, sessionID, responseText string) (interview.TurnResult, error)
	Get(ctx context.Context, sessionID string) (interview.SessionDetails, error)
	Complete(ctx context.Context, p interview.CompleteParams) (interview.Decision, error)
	UpdateProgress(ctx context.Context, sessionID string, patch interview.ProgressUpdate) (interview.Session, error)
	ApplicationDetails(ctx context.Context, applicationID string) (interview.ApplicationDetails, error)
}

type authService interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// Server holds the HTTP handlers and the services they call.
type Server struct {
	applications  applicationService
	interviews    interviewService
	authService   authService
	brokerService *broker.Service
	log           *zap.Logger
	// serviceKey guards the machine-to-machine interview endpoints when set.
	serviceKey string
	ready      func(ctx context.Context) error
}

func (s *Server) logger() *zap.Logger {
	return logger.OrNop(s.log)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/auth/login", s.handleLogin)

	r.Post("/applications", s.handleCreateApplication)
	r.Get("/applications/{id}/status", s.handleApplicationStatus)

	r.Post("/interview/start", s.handleStartInterview)
	r.Post("/interview/respond", s.handleSubmitResponse)
	r.Get("/interview/{sessionId}", s.handleGetSession)
	r.Group(func(r chi.Router) {
		r.Use(s.requireServiceKey)
		r.Post("/interview/complete", s.handleCompleteInterview)
		r.Patch("/interview/{sessionId}/progress", s.handleUpdateProgress)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(requireRole(auth.RoleSupervisor))
		r.Get("/applications", s.handleListApplications)
		r.Get("/applications/{id}", s.handleApplicationDetails)
		r.Post("/auth/supervisors", s.handleRegisterSupervisor)
		r.Get("/brokers", s.handleBrokers)
		r.Get("/brokers/{id}", s.handleBroker)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
