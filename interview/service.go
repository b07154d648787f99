package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"brokeronboard/application"
	"brokeronboard/logger"
	"brokeronboard/metrics"
)

// FallbackGreeting is shown when the interviewer cannot produce an opening message.
const FallbackGreeting = "Welcome! Let's start your interview. Please tell me about yourself."

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Interviewer is the AI service conducting the conversation.
type Interviewer interface {
	Start(ctx context.Context, applicationID string) (string, error)
	Respond(ctx context.Context, s Session, responseText string) (Reply, error)
}

// Provisioner creates the broker account of an approved application inside tx
// and returns the new user id.
type Provisioner interface {
	ProvisionFromApplication(ctx context.Context, tx pgx.Tx, app application.Application) (string, error)
}

// ApplicationReader loads applications outside a transaction.
type ApplicationReader interface {
	GetByID(ctx context.Context, id string) (application.Application, error)
}

// StatusInvalidator drops cached status projections after a transition.
type StatusInvalidator interface {
	Invalidate(ctx context.Context, applicationID string) error
}

// Deps wires a Service.
type Deps struct {
	Pool         TxBeginner
	Store        Store
	Applications ApplicationReader
	Interviewer  Interviewer
	Provisioner  Provisioner
	StatusCache  StatusInvalidator
	Logger       *zap.Logger
}

// Service orchestrates interview sessions from start to decision.
type Service struct {
	pool        TxBeginner
	store       Store
	apps        ApplicationReader
	ai          Interviewer
	provisioner Provisioner
	cache       StatusInvalidator
	log         *zap.Logger
	tracer      trace.Tracer
	locks       *keyedMutex
	now         func() time.Time
	newID       func() string
}

// NewService builds a Service from deps. StatusCache and Logger are optional.
func NewService(d Deps) *Service {
	return &Service{
		pool:        d.Pool,
		store:       d.Store,
		apps:        d.Applications,
		ai:          d.Interviewer,
		provisioner: d.Provisioner,
		cache:       d.StatusCache,
		log:         logger.OrNop(d.Logger),
		tracer:      otel.Tracer("brokeronboard/interview"),
		locks:       newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// WithClock overrides the clock used for timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator overrides identifier generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.newID = gen
	}
	return s
}

// Start opens the interview for an application, or returns the session that
// is already open. The interviewer's greeting is fetched after the session is
// committed; when it fails the fallback greeting is used and the session stays.
func (s *Service) Start(ctx context.Context, applicationID string) (res StartResult, err error) {
	ctx, span := s.tracer.Start(ctx, "interview.Start", trace.WithAttributes(attribute.String("application.id", applicationID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(applicationID) == "" {
		return StartResult{}, fmt.Errorf("%w: applicationId is required", ErrInvalidInput)
	}

	session, resumed, err := s.openSession(ctx, applicationID)
	if err != nil {
		return StartResult{}, err
	}
	if resumed {
		metrics.InterviewsStarted.WithLabelValues("resumed").Inc()
		s.log.Info("interview resumed",
			zap.String("application_id", applicationID),
			zap.String("session_id", session.ID))
		message := session.LastAssistantMessage()
		if message == "" {
			message = FallbackGreeting
		}
		return StartResult{Session: session, Message: message, Resumed: true}, nil
	}
	s.invalidate(ctx, applicationID)

	res = StartResult{Session: session}
	message, aiErr := s.ai.Start(ctx, applicationID)
	if aiErr != nil || strings.TrimSpace(message) == "" {
		metrics.InterviewsStarted.WithLabelValues("fallback_greeting").Inc()
		s.log.Warn("interviewer greeting unavailable, using fallback",
			zap.String("application_id", applicationID),
			zap.String("session_id", session.ID),
			zap.Error(aiErr))
		message = FallbackGreeting
		res.Fallback = true
	} else {
		metrics.InterviewsStarted.WithLabelValues("new").Inc()
	}
	res.Message = message

	turn := NewTurn(RoleAssistant, message, s.now())
	updated, err := s.store.AppendTurn(ctx, session.ID, turn)
	if err != nil {
		s.log.Error("record greeting in transcript",
			zap.String("session_id", session.ID),
			zap.Error(err))
		session.Transcript = append(session.Transcript, turn)
		res.Session = session
	} else {
		res.Session = updated
	}

	s.log.Info("interview started",
		zap.String("application_id", applicationID),
		zap.String("session_id", session.ID),
		zap.Bool("fallback_greeting", res.Fallback))
	return res, nil
}

// openSession returns the active session of applicationID, creating it and
// moving the application into the interview when none exists.
func (s *Service) openSession(ctx context.Context, applicationID string) (Session, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, false, fmt.Errorf("interview: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.store.LockApplication(ctx, tx, applicationID)
	if err != nil {
		return Session{}, false, err
	}

	active, ok, err := s.store.FindActiveSession(ctx, tx, applicationID)
	if err != nil {
		return Session{}, false, err
	}
	if ok {
		return active, true, nil
	}
	if app.Status.Terminal() {
		return Session{}, false, ErrApplicationClosed
	}

	now := s.now()
	created, err := s.store.CreateSession(ctx, tx, Session{
		ID:            s.newID(),
		ApplicationID: applicationID,
		CurrentPhase:  1,
		QuestionIndex: 0,
		StartedAt:     now,
	})
	if errors.Is(err, ErrActiveSessionExists) {
		_ = tx.Rollback(ctx)
		active, getErr := s.store.GetActiveSession(ctx, applicationID)
		if getErr != nil {
			return Session{}, false, getErr
		}
		return active, true, nil
	}
	if err != nil {
		return Session{}, false, err
	}

	if err := s.store.MarkInterviewStarted(ctx, tx, applicationID, now); err != nil {
		return Session{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, false, fmt.Errorf("interview: commit start: %w", err)
	}
	return created, false, nil
}

// Submit records an applicant answer, asks the interviewer for the next step
// and merges its state. The answer is persisted before the interviewer is
// called and is kept when the interviewer fails. Answers to the same session
// are processed one at a time.
func (s *Service) Submit(ctx context.Context, sessionID, responseText string) (res TurnResult, err error) {
	ctx, span := s.tracer.Start(ctx, "interview.Submit", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(responseText) == "" {
		return TurnResult{}, fmt.Errorf("%w: sessionId and responseText are required", ErrInvalidInput)
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}
	if session.IsComplete {
		metrics.InterviewTurns.WithLabelValues("rejected_complete").Inc()
		return TurnResult{}, ErrSessionComplete
	}

	response, session, err := s.recordResponse(ctx, session, responseText)
	if err != nil {
		return TurnResult{}, err
	}

	reply, err := s.ai.Respond(ctx, session, responseText)
	if err != nil {
		metrics.InterviewTurns.WithLabelValues("upstream_error").Inc()
		s.log.Warn("interviewer failed to respond",
			zap.String("session_id", sessionID),
			zap.String("response_id", response.ID),
			zap.Error(err))
		return TurnResult{}, fmt.Errorf("%w: %v", ErrInterviewerUnavailable, err)
	}

	if reply.Evaluation != nil {
		if err := s.store.SetResponseEvaluation(ctx, response.ID, *reply.Evaluation); err != nil {
			s.log.Warn("store response evaluation", zap.String("response_id", response.ID), zap.Error(err))
		}
	}

	merged, adjustments := mergeReply(session, reply, s.now())
	for _, adj := range adjustments {
		s.log.Warn("interviewer state adjusted", zap.String("session_id", sessionID), zap.String("adjustment", adj))
	}

	saved, err := s.store.SaveTurnResult(ctx, session.Version, merged)
	if err != nil {
		metrics.InterviewTurns.WithLabelValues("save_failed").Inc()
		return TurnResult{}, err
	}

	res = TurnResult{
		SessionID:     saved.ID,
		ResponseID:    response.ID,
		Message:       reply.Message,
		CurrentPhase:  saved.CurrentPhase,
		QuestionIndex: saved.QuestionIndex,
		IsComplete:    reply.IsComplete,
	}

	if !reply.IsComplete {
		metrics.InterviewTurns.WithLabelValues("ok").Inc()
		return res, nil
	}

	var reported *float64
	if reply.Update != nil {
		reported = reply.Update.TotalScore
	}
	if _, err := s.Complete(ctx, CompleteParams{
		SessionID:  saved.ID,
		TotalScore: FinalScore(saved.Scores, reported),
		RedFlags:   saved.RedFlags,
	}); err != nil {
		metrics.InterviewTurns.WithLabelValues("completion_failed").Inc()
		return TurnResult{}, err
	}

	final, err := s.store.GetSession(ctx, saved.ID)
	if err != nil {
		return TurnResult{}, err
	}
	metrics.InterviewTurns.WithLabelValues("completed").Inc()
	res.CurrentPhase = final.CurrentPhase
	res.QuestionIndex = final.QuestionIndex
	res.FinalResult = final.FinalResult
	res.FinalScore = final.TotalScore
	return res, nil
}

func (s *Service) recordResponse(ctx context.Context, session Session, text string) (Response, Session, error) {
	now := s.now()
	response := Response{
		ID:          s.newID(),
		SessionID:   session.ID,
		Phase:       session.CurrentPhase,
		QuestionKey: QuestionKey(session.CurrentPhase, session.QuestionIndex),
		Text:        text,
		CreatedAt:   now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Response{}, Session{}, fmt.Errorf("interview: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.store.RecordResponse(ctx, tx, response, NewTurn(RoleUser, text, now))
	if err != nil {
		return Response{}, Session{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Response{}, Session{}, fmt.Errorf("interview: commit response: %w", err)
	}
	return response, updated, nil
}

// Get returns a session with its responses.
func (s *Service) Get(ctx context.Context, sessionID string) (SessionDetails, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionDetails{}, err
	}
	responses, err := s.store.ListResponses(ctx, sessionID)
	if err != nil {
		return SessionDetails{}, err
	}
	return SessionDetails{Session: session, Responses: responses}, nil
}

// UpdateProgress applies a manual sparse patch to an open session.
func (s *Service) UpdateProgress(ctx context.Context, sessionID string, patch ProgressUpdate) (Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if session.IsComplete {
		return Session{}, ErrSessionComplete
	}

	merged, err := applyProgress(session, patch)
	if err != nil {
		return Session{}, err
	}
	saved, err := s.store.SaveProgress(ctx, merged)
	if err != nil {
		return Session{}, err
	}
	s.log.Info("session progress updated",
		zap.String("session_id", sessionID),
		zap.Int("phase", saved.CurrentPhase),
		zap.Int("question_index", saved.QuestionIndex))
	return saved, nil
}

// ApplicationDetails returns an application with every session and response.
func (s *Service) ApplicationDetails(ctx context.Context, applicationID string) (ApplicationDetails, error) {
	var (
		app      application.Application
		sessions []Session
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		app, err = s.apps.GetByID(gctx, applicationID)
		return err
	})
	g.Go(func() error {
		var err error
		sessions, err = s.store.ListSessions(gctx, applicationID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ApplicationDetails{}, err
	}

	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	responses, err := s.store.ListResponses(ctx, ids...)
	if err != nil {
		return ApplicationDetails{}, err
	}

	bySession := make(map[string][]Response, len(sessions))
	for _, r := range responses {
		bySession[r.SessionID] = append(bySession[r.SessionID], r)
	}

	details := ApplicationDetails{Application: app, Sessions: make([]SessionDetails, 0, len(sessions))}
	for _, sess := range sessions {
		rs := bySession[sess.ID]
		if rs == nil {
			rs = []Response{}
		}
		details.Sessions = append(details.Sessions, SessionDetails{Session: sess, Responses: rs})
	}
	return details, nil
}

func (s *Service) invalidate(ctx context.Context, applicationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, applicationID); err != nil {
		s.log.Warn("invalidate status cache", zap.String("application_id", applicationID), zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
