package interview

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"brokeronboard/application"
	"brokeronboard/logger"
	"brokeronboard/metrics"
)

// TopicApplicationDecided is the outbox topic written for every decision.
const TopicApplicationDecided = "application.decided"

// DecisionEvent is the outbox payload announcing an interview decision.
type DecisionEvent struct {
	ApplicationID   string             `json:"application_id"`
	SessionID       string             `json:"session_id"`
	Name            string             `json:"name"`
	Phone           string             `json:"phone"`
	Result          application.Result `json:"result"`
	Score           float64            `json:"score"`
	RedFlags        []string           `json:"red_flags"`
	ConvertedUserID *string            `json:"converted_user_id,omitempty"`
	DecidedAt       time.Time          `json:"decided_at"`
}

// Complete finalises a session: applies the red-flag penalty, records the
// result on the session and the application and, on approval, provisions the
// broker account. Everything happens in one transaction; a provisioning
// failure leaves the session open and the application in progress. Completing
// an already finalised session returns the stored decision.
func (s *Service) Complete(ctx context.Context, p CompleteParams) (d Decision, err error) {
	ctx, span := s.tracer.Start(ctx, "interview.Complete", trace.WithAttributes(attribute.String("session.id", p.SessionID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(p.SessionID) == "" {
		return Decision{}, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if math.IsNaN(p.TotalScore) || math.IsInf(p.TotalScore, 0) {
		return Decision{}, fmt.Errorf("%w: totalScore must be a finite number", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("interview: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	session, err := s.store.LockSession(ctx, tx, p.SessionID)
	if err != nil {
		return Decision{}, err
	}
	app, err := s.store.LockApplication(ctx, tx, session.ApplicationID)
	if err != nil {
		return Decision{}, err
	}

	if session.IsComplete {
		return storedDecision(session, app), nil
	}
	if app.Status != application.StatusInterviewInProgress {
		return Decision{}, ErrApplicationClosed
	}

	flags := nonNilStrings(p.RedFlags)
	adjusted, result := Decide(p.TotalScore, flags)
	d = Decision{
		SessionID:     session.ID,
		ApplicationID: app.ID,
		RawScore:      p.TotalScore,
		AdjustedScore: adjusted,
		Result:        result,
		RedFlags:      flags,
	}
	now := s.now()

	if err := s.store.CompleteSession(ctx, tx, d, now); err != nil {
		return Decision{}, err
	}

	if result == application.ResultApproved {
		userID, err := s.provisioner.ProvisionFromApplication(ctx, tx, app)
		if err != nil {
			metrics.Conversions.WithLabelValues("failed").Inc()
			s.log.Error("broker conversion failed",
				zap.String("application_id", app.ID),
				zap.String("session_id", session.ID),
				zap.Error(err))
			return Decision{}, fmt.Errorf("%w: %v", ErrConversionFailed, err)
		}
		d.ConvertedUserID = &userID
	}

	if err := s.store.RecordDecision(ctx, tx, d, now); err != nil {
		return Decision{}, err
	}

	event := DecisionEvent{
		ApplicationID:   app.ID,
		SessionID:       session.ID,
		Name:            app.Name,
		Phone:           app.Phone,
		Result:          result,
		Score:           adjusted,
		RedFlags:        flags,
		ConvertedUserID: d.ConvertedUserID,
		DecidedAt:       now,
	}
	if err := s.store.EnqueueOutbox(ctx, tx, TopicApplicationDecided, event); err != nil {
		return Decision{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if d.ConvertedUserID != nil {
			metrics.Conversions.WithLabelValues("failed").Inc()
			return Decision{}, fmt.Errorf("%w: commit: %v", ErrConversionFailed, err)
		}
		return Decision{}, fmt.Errorf("interview: commit decision: %w", err)
	}

	if d.ConvertedUserID != nil {
		metrics.Conversions.WithLabelValues("ok").Inc()
	}
	metrics.InterviewDecisions.WithLabelValues(string(result)).Inc()
	metrics.InterviewScore.Observe(adjusted)
	s.invalidate(ctx, app.ID)

	fields := []zap.Field{
		zap.String("application_id", app.ID),
		zap.String("session_id", session.ID),
		logger.Phone("phone", app.Phone),
		zap.Float64("raw_score", p.TotalScore),
		zap.Float64("adjusted_score", adjusted),
		zap.Int("red_flags", len(flags)),
		zap.String("result", string(result)),
	}
	if d.ConvertedUserID != nil {
		fields = append(fields, zap.String("converted_user_id", *d.ConvertedUserID))
	}
	s.log.Info("interview decided", fields...)
	return d, nil
}

// storedDecision rebuilds the decision of a session finalised earlier.
func storedDecision(session Session, app application.Application) Decision {
	d := Decision{
		SessionID:       session.ID,
		ApplicationID:   app.ID,
		RedFlags:        session.RedFlags,
		ConvertedUserID: app.ConvertedUserID,
		AlreadyComplete: true,
	}
	if session.TotalScore != nil {
		d.RawScore = *session.TotalScore
		d.AdjustedScore = *session.TotalScore
	}
	if session.FinalResult != nil {
		d.Result = *session.FinalResult
	}
	return d
}

// IsConflict reports whether err is a state conflict rather than a failure.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSessionComplete) ||
		errors.Is(err, ErrApplicationClosed) ||
		errors.Is(err, ErrConcurrentTurn) ||
		errors.Is(err, ErrActiveSessionExists)
}
