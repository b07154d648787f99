package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"brokeronboard/application"
)

var (
	// ErrSessionNotFound signals the interview session does not exist.
	ErrSessionNotFound = errors.New("interview: session not found")
	// ErrApplicationNotFound signals the application to interview does not exist.
	ErrApplicationNotFound = errors.New("interview: application not found")
	// ErrSessionComplete signals a write against a finalised session.
	ErrSessionComplete = errors.New("interview: session already complete")
	// ErrApplicationClosed signals the application already has a final decision.
	ErrApplicationClosed = errors.New("interview: application already decided")
	// ErrConcurrentTurn signals the session changed while a turn was in flight.
	ErrConcurrentTurn = errors.New("interview: session modified concurrently")
	// ErrActiveSessionExists signals the single-open-session index rejected an insert.
	ErrActiveSessionExists = errors.New("interview: application already has an active session")
	// ErrInvalidInput signals a malformed request.
	ErrInvalidInput = errors.New("interview: invalid input")
	// ErrInterviewerUnavailable signals the AI interviewer failed or timed out.
	ErrInterviewerUnavailable = errors.New("interview: AI interviewer service unavailable")
	// ErrConversionFailed signals an approved application could not be promoted to a broker account.
	ErrConversionFailed = errors.New("interview: broker conversion failed")
)

// Store persists sessions and responses. Methods taking a pgx.Tx run inside
// the caller's transaction.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (Session, error)
	GetActiveSession(ctx context.Context, applicationID string) (Session, error)
	ListSessions(ctx context.Context, applicationID string) ([]Session, error)
	ListResponses(ctx context.Context, sessionIDs ...string) ([]Response, error)
	AppendTurn(ctx context.Context, sessionID string, turn Turn) (Session, error)
	SaveTurnResult(ctx context.Context, expectedVersion int, s Session) (Session, error)
	SetResponseEvaluation(ctx context.Context, responseID string, eval Evaluation) error
	SaveProgress(ctx context.Context, s Session) (Session, error)

	LockApplication(ctx context.Context, tx pgx.Tx, applicationID string) (application.Application, error)
	FindActiveSession(ctx context.Context, tx pgx.Tx, applicationID string) (Session, bool, error)
	CreateSession(ctx context.Context, tx pgx.Tx, s Session) (Session, error)
	MarkInterviewStarted(ctx context.Context, tx pgx.Tx, applicationID string, at time.Time) error
	RecordResponse(ctx context.Context, tx pgx.Tx, r Response, turn Turn) (Session, error)
	LockSession(ctx context.Context, tx pgx.Tx, sessionID string) (Session, error)
	CompleteSession(ctx context.Context, tx pgx.Tx, d Decision, at time.Time) error
	RecordDecision(ctx context.Context, tx pgx.Tx, d Decision, at time.Time) error
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload any) error
}

// PGRepository implements Store backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed session store.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const sessionColumns = `id, application_id, current_phase, phase_question_index, is_complete,
	phase_1_score, phase_2_score, phase_3_score, phase_4_score, phase_5_score, phase_6_score,
	red_flags, total_score, final_result, started_at, completed_at, conversation_context, version`

const responseColumns = `id, session_id, phase, question_key, response_text, score, evaluation_notes,
	red_flags_detected, created_at`

// GetSession loads a session by id.
func (r *PGRepository) GetSession(ctx context.Context, sessionID string) (Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM interview_sessions WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("interview: get session: %w", err)
	}
	return s, nil
}

// GetActiveSession loads the open session of an application.
func (r *PGRepository) GetActiveSession(ctx context.Context, applicationID string) (Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM interview_sessions WHERE application_id = $1 AND NOT is_complete`

	s, err := scanSession(r.pool.QueryRow(ctx, query, applicationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("interview: get active session: %w", err)
	}
	return s, nil
}

// ListSessions returns every session of an application, oldest first.
func (r *PGRepository) ListSessions(ctx context.Context, applicationID string) ([]Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM interview_sessions WHERE application_id = $1 ORDER BY started_at, id`

	rows, err := r.pool.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("interview: list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0, 1)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("interview: scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interview: iterate sessions: %w", err)
	}
	return sessions, nil
}

// ListResponses returns the responses of the given sessions in answer order.
func (r *PGRepository) ListResponses(ctx context.Context, sessionIDs ...string) ([]Response, error) {
	if len(sessionIDs) == 0 {
		return []Response{}, nil
	}
	const query = `SELECT ` + responseColumns + ` FROM interview_responses WHERE session_id = ANY($1) ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("interview: list responses: %w", err)
	}
	defer rows.Close()

	responses := make([]Response, 0)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("interview: scan response: %w", err)
		}
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interview: iterate responses: %w", err)
	}
	return responses, nil
}

// AppendTurn atomically appends turn to an open session's transcript.
func (r *PGRepository) AppendTurn(ctx context.Context, sessionID string, turn Turn) (Session, error) {
	body, err := json.Marshal([]Turn{turn})
	if err != nil {
		return Session{}, fmt.Errorf("interview: marshal turn: %w", err)
	}

	const query = `
		UPDATE interview_sessions
		SET conversation_context = conversation_context || $2::jsonb,
		    version = version + 1
		WHERE id = $1 AND NOT is_complete
		RETURNING ` + sessionColumns

	s, err := scanSession(r.pool.QueryRow(ctx, query, sessionID, body))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, r.missingOrComplete(ctx, sessionID)
		}
		return Session{}, fmt.Errorf("interview: append turn: %w", err)
	}
	return s, nil
}

// SaveTurnResult writes the merged post-reply state if nobody else wrote the
// session since expectedVersion was read.
func (r *PGRepository) SaveTurnResult(ctx context.Context, expectedVersion int, s Session) (Session, error) {
	saved, err := r.writeProgress(ctx, s, &expectedVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, r.missingOrComplete(ctx, s.ID)
	}
	if err != nil {
		return Session{}, fmt.Errorf("interview: save turn result: %w", err)
	}
	return saved, nil
}

// SaveProgress writes s unconditionally as long as the session is still open.
func (r *PGRepository) SaveProgress(ctx context.Context, s Session) (Session, error) {
	saved, err := r.writeProgress(ctx, s, nil)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, r.missingOrComplete(ctx, s.ID)
	}
	if err != nil {
		return Session{}, fmt.Errorf("interview: save progress: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) writeProgress(ctx context.Context, s Session, expectedVersion *int) (Session, error) {
	redFlags, err := json.Marshal(nonNilStrings(s.RedFlags))
	if err != nil {
		return Session{}, fmt.Errorf("interview: marshal red flags: %w", err)
	}
	transcript, err := json.Marshal(nonNilTurns(s.Transcript))
	if err != nil {
		return Session{}, fmt.Errorf("interview: marshal transcript: %w", err)
	}

	const query = `
		UPDATE interview_sessions
		SET current_phase = $2,
		    phase_question_index = $3,
		    phase_1_score = $4,
		    phase_2_score = $5,
		    phase_3_score = $6,
		    phase_4_score = $7,
		    phase_5_score = $8,
		    phase_6_score = $9,
		    red_flags = $10::jsonb,
		    conversation_context = $11::jsonb,
		    version = version + 1
		WHERE id = $1
		  AND NOT is_complete
		  AND ($12::int IS NULL OR version = $12::int)
		RETURNING ` + sessionColumns

	return scanSession(r.pool.QueryRow(ctx, query,
		s.ID, s.CurrentPhase, s.QuestionIndex,
		s.Scores[0], s.Scores[1], s.Scores[2], s.Scores[3], s.Scores[4], s.Scores[5],
		redFlags, transcript, expectedVersion))
}

// SetResponseEvaluation stores the interviewer's assessment of an answer.
func (r *PGRepository) SetResponseEvaluation(ctx context.Context, responseID string, eval Evaluation) error {
	flags, err := json.Marshal(nonNilStrings(eval.RedFlags))
	if err != nil {
		return fmt.Errorf("interview: marshal detected red flags: %w", err)
	}

	const query = `
		UPDATE interview_responses
		SET score = $2, evaluation_notes = $3, red_flags_detected = $4::jsonb
		WHERE id = $1 AND score IS NULL AND evaluation_notes IS NULL`

	if _, err := r.pool.Exec(ctx, query, responseID, eval.Score, eval.Notes, flags); err != nil {
		return fmt.Errorf("interview: set response evaluation: %w", err)
	}
	return nil
}

// LockApplication loads an application row and holds its lock until the transaction ends.
func (r *PGRepository) LockApplication(ctx context.Context, tx pgx.Tx, applicationID string) (application.Application, error) {
	const query = `SELECT ` + application.Columns + ` FROM broker_applications WHERE id = $1 FOR UPDATE`

	app, err := application.Scan(tx.QueryRow(ctx, query, applicationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return application.Application{}, ErrApplicationNotFound
		}
		return application.Application{}, fmt.Errorf("interview: lock application: %w", err)
	}
	return app, nil
}

// FindActiveSession looks up the open session of an application inside tx.
func (r *PGRepository) FindActiveSession(ctx context.Context, tx pgx.Tx, applicationID string) (Session, bool, error) {
	const query = `SELECT ` + sessionColumns + ` FROM interview_sessions WHERE application_id = $1 AND NOT is_complete`

	s, err := scanSession(tx.QueryRow(ctx, query, applicationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("interview: find active session: %w", err)
	}
	return s, true, nil
}

// CreateSession inserts a fresh session at phase 1, question 0.
func (r *PGRepository) CreateSession(ctx context.Context, tx pgx.Tx, s Session) (Session, error) {
	const query = `
		INSERT INTO interview_sessions (id, application_id, current_phase, phase_question_index, started_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + sessionColumns

	created, err := scanSession(tx.QueryRow(ctx, query, s.ID, s.ApplicationID, s.CurrentPhase, s.QuestionIndex, s.StartedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Session{}, ErrActiveSessionExists
		}
		return Session{}, fmt.Errorf("interview: create session: %w", err)
	}
	return created, nil
}

// MarkInterviewStarted moves a pending application into the interview.
func (r *PGRepository) MarkInterviewStarted(ctx context.Context, tx pgx.Tx, applicationID string, at time.Time) error {
	const query = `
		UPDATE broker_applications
		SET status = 'interview_in_progress',
		    interview_started_at = COALESCE(interview_started_at, $2)
		WHERE id = $1 AND status IN ('pending_interview', 'interview_in_progress')`

	tag, err := tx.Exec(ctx, query, applicationID, at)
	if err != nil {
		return fmt.Errorf("interview: mark interview started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrApplicationClosed
	}
	return nil
}

// RecordResponse inserts the answer row and appends the applicant turn.
func (r *PGRepository) RecordResponse(ctx context.Context, tx pgx.Tx, resp Response, turn Turn) (Session, error) {
	const insertSQL = `
		INSERT INTO interview_responses (id, session_id, phase, question_key, response_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := tx.Exec(ctx, insertSQL, resp.ID, resp.SessionID, resp.Phase, resp.QuestionKey, resp.Text, resp.CreatedAt); err != nil {
		return Session{}, fmt.Errorf("interview: insert response: %w", err)
	}

	body, err := json.Marshal([]Turn{turn})
	if err != nil {
		return Session{}, fmt.Errorf("interview: marshal turn: %w", err)
	}

	const appendSQL = `
		UPDATE interview_sessions
		SET conversation_context = conversation_context || $2::jsonb,
		    version = version + 1
		WHERE id = $1 AND NOT is_complete
		RETURNING ` + sessionColumns

	s, err := scanSession(tx.QueryRow(ctx, appendSQL, resp.SessionID, body))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionComplete
		}
		return Session{}, fmt.Errorf("interview: append applicant turn: %w", err)
	}
	return s, nil
}

// LockSession loads a session and holds its lock until the transaction ends.
func (r *PGRepository) LockSession(ctx context.Context, tx pgx.Tx, sessionID string) (Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM interview_sessions WHERE id = $1 FOR UPDATE`

	s, err := scanSession(tx.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("interview: lock session: %w", err)
	}
	return s, nil
}

// CompleteSession freezes the session with its final score and result.
func (r *PGRepository) CompleteSession(ctx context.Context, tx pgx.Tx, d Decision, at time.Time) error {
	flags, err := json.Marshal(nonNilStrings(d.RedFlags))
	if err != nil {
		return fmt.Errorf("interview: marshal red flags: %w", err)
	}

	const query = `
		UPDATE interview_sessions
		SET is_complete = TRUE,
		    total_score = $2,
		    final_result = $3,
		    red_flags = $4::jsonb,
		    completed_at = $5,
		    version = version + 1
		WHERE id = $1 AND NOT is_complete`

	tag, err := tx.Exec(ctx, query, d.SessionID, d.AdjustedScore, string(d.Result), flags, at)
	if err != nil {
		return fmt.Errorf("interview: complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionComplete
	}
	return nil
}

// RecordDecision copies the decision onto the application. Status, score,
// result, completion time and converted user are written in one statement.
func (r *PGRepository) RecordDecision(ctx context.Context, tx pgx.Tx, d Decision, at time.Time) error {
	const query = `
		UPDATE broker_applications
		SET status = $2,
		    interview_score = $3,
		    interview_result = $4,
		    interview_completed_at = $5,
		    converted_user_id = $6
		WHERE id = $1 AND status = 'interview_in_progress'`

	tag, err := tx.Exec(ctx, query, d.ApplicationID, string(d.Result.Status()), d.AdjustedScore, string(d.Result), at, d.ConvertedUserID)
	if err != nil {
		return fmt.Errorf("interview: record decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrApplicationClosed
	}
	return nil
}

// EnqueueOutbox records a message for asynchronous delivery.
func (r *PGRepository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("interview: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("interview: enqueue outbox: %w", err)
	}
	return nil
}

// missingOrComplete explains why a guarded session update touched no row.
func (r *PGRepository) missingOrComplete(ctx context.Context, sessionID string) error {
	s, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.IsComplete {
		return ErrSessionComplete
	}
	return ErrConcurrentTurn
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		s          Session
		redFlags   []byte
		transcript []byte
		result     *string
	)
	err := row.Scan(
		&s.ID,
		&s.ApplicationID,
		&s.CurrentPhase,
		&s.QuestionIndex,
		&s.IsComplete,
		&s.Scores[0],
		&s.Scores[1],
		&s.Scores[2],
		&s.Scores[3],
		&s.Scores[4],
		&s.Scores[5],
		&redFlags,
		&s.TotalScore,
		&result,
		&s.StartedAt,
		&s.CompletedAt,
		&transcript,
		&s.Version,
	)
	if err != nil {
		return Session{}, err
	}
	if err := decodeJSONList(redFlags, &s.RedFlags); err != nil {
		return Session{}, fmt.Errorf("decode red flags: %w", err)
	}
	if err := decodeJSONList(transcript, &s.Transcript); err != nil {
		return Session{}, fmt.Errorf("decode transcript: %w", err)
	}
	if s.RedFlags == nil {
		s.RedFlags = []string{}
	}
	if s.Transcript == nil {
		s.Transcript = []Turn{}
	}
	if result != nil {
		res := application.Result(*result)
		s.FinalResult = &res
	}
	return s, nil
}

func scanResponse(row pgx.Row) (Response, error) {
	var (
		resp  Response
		flags []byte
	)
	err := row.Scan(
		&resp.ID,
		&resp.SessionID,
		&resp.Phase,
		&resp.QuestionKey,
		&resp.Text,
		&resp.Score,
		&resp.EvaluationNotes,
		&flags,
		&resp.CreatedAt,
	)
	if err != nil {
		return Response{}, err
	}
	if err := decodeJSONList(flags, &resp.RedFlagsDetected); err != nil {
		return Response{}, fmt.Errorf("decode detected red flags: %w", err)
	}
	if resp.RedFlagsDetected == nil {
		resp.RedFlagsDetected = []string{}
	}
	return resp, nil
}

func decodeJSONList(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilTurns(v []Turn) []Turn {
	if v == nil {
		return []Turn{}
	}
	return v
}
