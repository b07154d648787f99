package interview

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"brokeronboard/application"
)

type fakePool struct {
	mu  sync.Mutex
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

// fakeTx buffers store writes and applies them on commit.
type fakeTx struct {
	onCommit  []func()
	rolled    bool
	committed bool
}

func (f *fakeTx) stage(fn func()) { f.onCommit = append(f.onCommit, fn) }

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	if f.committed || f.rolled {
		return pgx.ErrTxClosed
	}
	f.committed = true
	for _, fn := range f.onCommit {
		fn()
	}
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.committed || f.rolled {
		return pgx.ErrTxClosed
	}
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type outboxRow struct {
	topic   string
	payload any
}

// fakeStore is an in-memory Store. Writes made through a transaction become
// visible only when that transaction commits.
type fakeStore struct {
	mu        sync.Mutex
	apps      map[string]application.Application
	sessions  map[string]Session
	responses []Response
	outbox    []outboxRow
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		apps:     make(map[string]application.Application),
		sessions: make(map[string]Session),
	}
}

func (f *fakeStore) putApplication(app application.Application) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apps[app.ID] = app
}

func (f *fakeStore) putSession(s Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = cloneSession(s)
}

func (f *fakeStore) application(id string) application.Application {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apps[id]
}

func (f *fakeStore) session(id string) Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneSession(f.sessions[id])
}

func (f *fakeStore) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.responses)
}

func (f *fakeStore) outboxRows() []outboxRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outboxRow(nil), f.outbox...)
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (application.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[id]
	if !ok {
		return application.Application{}, application.ErrNotFound
	}
	return app, nil
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return cloneSession(s), nil
}

func (f *fakeStore) GetActiveSession(ctx context.Context, applicationID string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.activeLocked(applicationID); ok {
		return s, nil
	}
	return Session{}, ErrSessionNotFound
}

func (f *fakeStore) activeLocked(applicationID string) (Session, bool) {
	for _, s := range f.sessions {
		if s.ApplicationID == applicationID && !s.IsComplete {
			return cloneSession(s), true
		}
	}
	return Session{}, false
}

func (f *fakeStore) ListSessions(ctx context.Context, applicationID string) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Session{}
	for _, s := range f.sessions {
		if s.ApplicationID == applicationID {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (f *fakeStore) ListResponses(ctx context.Context, sessionIDs ...string) ([]Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		want[id] = true
	}
	out := []Response{}
	for _, r := range f.responses {
		if want[r.SessionID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendTurn(ctx context.Context, sessionID string, turn Turn) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return Session{}, f.appendErr
	}
	s, err := f.openLocked(sessionID)
	if err != nil {
		return Session{}, err
	}
	s.Transcript = append(s.Transcript, turn)
	s.Version++
	f.sessions[sessionID] = s
	return cloneSession(s), nil
}

func (f *fakeStore) SaveTurnResult(ctx context.Context, expectedVersion int, s Session) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, err := f.openLocked(s.ID)
	if err != nil {
		return Session{}, err
	}
	if cur.Version != expectedVersion {
		return Session{}, ErrConcurrentTurn
	}
	return f.writeLocked(cur, s), nil
}

func (f *fakeStore) SaveProgress(ctx context.Context, s Session) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, err := f.openLocked(s.ID)
	if err != nil {
		return Session{}, err
	}
	return f.writeLocked(cur, s), nil
}

func (f *fakeStore) writeLocked(cur, next Session) Session {
	cur.CurrentPhase = next.CurrentPhase
	cur.QuestionIndex = next.QuestionIndex
	cur.Scores = next.Scores
	cur.RedFlags = append([]string{}, next.RedFlags...)
	cur.Transcript = append([]Turn{}, next.Transcript...)
	cur.Version++
	f.sessions[cur.ID] = cur
	return cloneSession(cur)
}

func (f *fakeStore) openLocked(sessionID string) (Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if s.IsComplete {
		return Session{}, ErrSessionComplete
	}
	return cloneSession(s), nil
}

func (f *fakeStore) SetResponseEvaluation(ctx context.Context, responseID string, eval Evaluation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.responses {
		if f.responses[i].ID == responseID {
			f.responses[i].Score = eval.Score
			f.responses[i].EvaluationNotes = eval.Notes
			f.responses[i].RedFlagsDetected = append([]string{}, eval.RedFlags...)
			return nil
		}
	}
	return fmt.Errorf("response %s not found", responseID)
}

func (f *fakeStore) LockApplication(ctx context.Context, tx pgx.Tx, applicationID string) (application.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[applicationID]
	if !ok {
		return application.Application{}, ErrApplicationNotFound
	}
	return app, nil
}

func (f *fakeStore) FindActiveSession(ctx context.Context, tx pgx.Tx, applicationID string) (Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.activeLocked(applicationID)
	return s, ok, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, tx pgx.Tx, s Session) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.activeLocked(s.ApplicationID); ok {
		return Session{}, ErrActiveSessionExists
	}
	s.RedFlags = []string{}
	s.Transcript = []Turn{}
	created := cloneSession(s)
	tx.(*fakeTx).stage(func() { f.putSession(created) })
	return cloneSession(created), nil
}

func (f *fakeStore) MarkInterviewStarted(ctx context.Context, tx pgx.Tx, applicationID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	app := f.apps[applicationID]
	if app.Status.Terminal() {
		return ErrApplicationClosed
	}
	tx.(*fakeTx).stage(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		app := f.apps[applicationID]
		app.Status = application.StatusInterviewInProgress
		if app.InterviewStartedAt == nil {
			app.InterviewStartedAt = &at
		}
		f.apps[applicationID] = app
	})
	return nil
}

func (f *fakeStore) RecordResponse(ctx context.Context, tx pgx.Tx, r Response, turn Turn) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.openLocked(r.SessionID)
	if err != nil {
		return Session{}, err
	}
	s.Transcript = append(s.Transcript, turn)
	s.Version++
	r.RedFlagsDetected = []string{}
	updated := cloneSession(s)
	tx.(*fakeTx).stage(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.responses = append(f.responses, r)
		f.sessions[updated.ID] = updated
	})
	return cloneSession(updated), nil
}

func (f *fakeStore) LockSession(ctx context.Context, tx pgx.Tx, sessionID string) (Session, error) {
	return f.GetSession(ctx, sessionID)
}

func (f *fakeStore) CompleteSession(ctx context.Context, tx pgx.Tx, d Decision, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.openLocked(d.SessionID); err != nil {
		return err
	}
	tx.(*fakeTx).stage(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		s := f.sessions[d.SessionID]
		score := d.AdjustedScore
		result := d.Result
		s.IsComplete = true
		s.TotalScore = &score
		s.FinalResult = &result
		s.RedFlags = append([]string{}, d.RedFlags...)
		s.CompletedAt = &at
		s.Version++
		f.sessions[d.SessionID] = s
	})
	return nil
}

func (f *fakeStore) RecordDecision(ctx context.Context, tx pgx.Tx, d Decision, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apps[d.ApplicationID].Status != application.StatusInterviewInProgress {
		return ErrApplicationClosed
	}
	tx.(*fakeTx).stage(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		app := f.apps[d.ApplicationID]
		score := d.AdjustedScore
		result := d.Result
		app.Status = d.Result.Status()
		app.InterviewScore = &score
		app.InterviewResult = &result
		app.InterviewCompletedAt = &at
		app.ConvertedUserID = d.ConvertedUserID
		f.apps[d.ApplicationID] = app
	})
	return nil
}

func (f *fakeStore) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload any) error {
	tx.(*fakeTx).stage(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.outbox = append(f.outbox, outboxRow{topic: topic, payload: payload})
	})
	return nil
}

func cloneSession(s Session) Session {
	s.RedFlags = append([]string{}, s.RedFlags...)
	s.Transcript = append([]Turn{}, s.Transcript...)
	return s
}

type fakeInterviewer struct {
	mu         sync.Mutex
	greeting   string
	startErr   error
	replies    []Reply
	respondErr error
	startCalls int
	answers    []string
}

func (f *fakeInterviewer) Start(ctx context.Context, applicationID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.greeting, nil
}

func (f *fakeInterviewer) Respond(ctx context.Context, s Session, responseText string) (Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, responseText)
	if f.respondErr != nil {
		return Reply{}, f.respondErr
	}
	if len(f.replies) == 0 {
		return Reply{Message: "Tell me more."}, nil
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	return next, nil
}

type fakeProvisioner struct {
	mu    sync.Mutex
	calls int
	areas []string
	err   error
}

func (f *fakeProvisioner) ProvisionFromApplication(ctx context.Context, tx pgx.Tx, app application.Application) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.areas = append([]string(nil), app.RequestedAreaIDs...)
	if f.err != nil {
		return "", f.err
	}
	return "user-" + app.ID, nil
}

type fakeInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, applicationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, applicationID)
	return nil
}
