package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"brokeronboard/application"
	"brokeronboard/auth"
	"brokeronboard/broker"
	"brokeronboard/interview"
)

type stubApplications struct {
	created    application.CreateParams
	createErr  error
	status     application.StatusView
	statusErr  error
	page       application.Page
	lastFilter application.Filters
}

func (s *stubApplications) Create(_ context.Context, p application.CreateParams) (application.Application, error) {
	s.created = p
	if s.createErr != nil {
		return application.Application{}, s.createErr
	}
	return application.Application{ID: "app-1", Status: application.StatusPendingInterview, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}, nil
}

func (s *stubApplications) GetStatus(_ context.Context, _ string) (application.StatusView, error) {
	return s.status, s.statusErr
}

func (s *stubApplications) List(_ context.Context, f application.Filters) (application.Page, error) {
	s.lastFilter = f
	return s.page, nil
}

type stubInterviews struct {
	start       interview.StartResult
	startErr    error
	turn        interview.TurnResult
	submitErr   error
	details     interview.SessionDetails
	getErr      error
	decision    interview.Decision
	completeIn  interview.CompleteParams
	completeErr error
	progress    interview.ProgressUpdate
	appDetails  interview.ApplicationDetails
}

func (s *stubInterviews) Start(_ context.Context, _ string) (interview.StartResult, error) {
	return s.start, s.startErr
}

func (s *stubInterviews) Submit(_ context.Context, _, _ string) (interview.TurnResult, error) {
	return s.turn, s.submitErr
}

func (s *stubInterviews) Get(_ context.Context, _ string) (interview.SessionDetails, error) {
	return s.details, s.getErr
}

func (s *stubInterviews) Complete(_ context.Context, p interview.CompleteParams) (interview.Decision, error) {
	s.completeIn = p
	return s.decision, s.completeErr
}

func (s *stubInterviews) UpdateProgress(_ context.Context, id string, p interview.ProgressUpdate) (interview.Session, error) {
	s.progress = p
	return interview.Session{ID: id, CurrentPhase: 3}, nil
}

func (s *stubInterviews) ApplicationDetails(_ context.Context, _ string) (interview.ApplicationDetails, error) {
	return s.appDetails, nil
}

type stubAuth struct{}

func (stubAuth) Login(_ context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	if req.Password != "correct-horse" {
		return auth.LoginResult{}, auth.ErrInvalidCredentials
	}
	return auth.LoginResult{Token: "tok", User: auth.User{ID: "u1", Phone: req.Phone, Role: auth.RoleSupervisor}}, nil
}

func (stubAuth) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	return &auth.User{ID: "sup-2", Phone: req.Phone, Name: req.Name, Role: req.Role}, nil
}

func (stubAuth) VerifyToken(token string) (string, auth.Role, error) {
	switch token {
	case "supervisor-token":
		return "sup-1", auth.RoleSupervisor, nil
	case "broker-token":
		return "b-1", auth.RoleBroker, nil
	}
	return "", "", errors.New("bad token")
}

type stubBrokerRepo struct {
	profile  broker.Profile
	profiles []broker.Profile
	err      error
}

func (s *stubBrokerRepo) GetByID(_ context.Context, _ string) (broker.Profile, error) {
	return s.profile, s.err
}

func (s *stubBrokerRepo) List(_ context.Context, limit int) ([]broker.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit <= 0 || limit > len(s.profiles) {
		limit = len(s.profiles)
	}
	out := make([]broker.Profile, limit)
	copy(out, s.profiles[:limit])
	return out, nil
}

func newTestServer() (*Server, *stubApplications, *stubInterviews) {
	apps := &stubApplications{}
	interviews := &stubInterviews{}
	return &Server{
		applications:  apps,
		interviews:    interviews,
		authService:   stubAuth{},
		brokerService: broker.NewService(&stubBrokerRepo{}),
	}, apps, interviews
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return env.Error
}

func TestCreateApplication(t *testing.T) {
	server, apps, _ := newTestServer()

	rec := do(t, server.routes(), http.MethodPost, "/applications",
		`{"phone":"0501234567","name":"Dana","password":"secret123","requestedAreaIds":["a1"]}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createApplicationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ApplicationID != "app-1" || resp.Status != application.StatusPendingInterview {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.CreatedAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("expected RFC3339 createdAt, got %s", resp.CreatedAt)
	}
	if apps.created.Phone != "0501234567" || len(apps.created.AreaIDs) != 1 {
		t.Fatalf("unexpected create params: %+v", apps.created)
	}
}

func TestCreateApplication_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{application.ErrDuplicatePhone, http.StatusConflict, "duplicate_phone"},
		{fmt.Errorf("%w: name is required", application.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{errors.New("db down"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			server, apps, _ := newTestServer()
			apps.createErr = tc.err

			rec := do(t, server.routes(), http.MethodPost, "/applications", `{"phone":"1"}`)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if got := decodeError(t, rec); got.Code != tc.code {
				t.Fatalf("expected code %s, got %+v", tc.code, got)
			}
		})
	}
}

func TestCreateApplication_MalformedBody(t *testing.T) {
	server, _, _ := newTestServer()
	rec := do(t, server.routes(), http.MethodPost, "/applications", `{"phone":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestApplicationStatus_NotFound(t *testing.T) {
	server, apps, _ := newTestServer()
	apps.statusErr = application.ErrNotFound

	rec := do(t, server.routes(), http.MethodGet, "/applications/missing/status", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListApplications_RequiresSupervisor(t *testing.T) {
	server, apps, _ := newTestServer()
	apps.page = application.Page{Items: []application.Application{{ID: "a1", Status: application.StatusRejected}}, Total: 4}
	h := server.routes()

	if rec := do(t, h, http.MethodGet, "/applications", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/applications", "", "Authorization", "Bearer broker-token"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for broker, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/applications?status=rejected&limit=5", "", "Authorization", "Bearer supervisor-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []applicationResponse `json:"items"`
		Total int                   `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if payload.Total != 4 || len(payload.Items) != 1 || payload.Items[0].ID != "a1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if apps.lastFilter.Status != application.StatusRejected || apps.lastFilter.Limit != 5 {
		t.Fatalf("unexpected filters: %+v", apps.lastFilter)
	}
}

func TestStartInterview(t *testing.T) {
	server, _, interviews := newTestServer()
	greeting := interview.Turn{Role: interview.RoleAssistant, Content: interview.FallbackGreeting, Timestamp: "2026-01-02T03:04:05Z"}
	interviews.start = interview.StartResult{
		Session:  interview.Session{ID: "s1", CurrentPhase: 1, Transcript: []interview.Turn{greeting}},
		Message:  interview.FallbackGreeting,
		Fallback: true,
	}

	rec := do(t, server.routes(), http.MethodPost, "/interview/start", `{"applicationId":"app-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	resp := decodeStart(t, rec)
	if resp.SessionID != "s1" || !resp.Fallback || resp.Message != interview.FallbackGreeting {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.IsComplete || len(resp.ConversationContext) != 1 || resp.ConversationContext[0].Content != interview.FallbackGreeting {
		t.Fatalf("expected open session with greeting transcript, got %+v", resp)
	}

	interviews.start = interview.StartResult{
		Session: interview.Session{ID: "s1", CurrentPhase: 2, QuestionIndex: 1, Transcript: []interview.Turn{
			greeting,
			{Role: interview.RoleUser, Content: "I sold flats for five years"},
			{Role: interview.RoleAssistant, Content: "Which areas?"},
		}},
		Message: "Which areas?",
		Resumed: true,
	}
	rec = do(t, server.routes(), http.MethodPost, "/interview/start", `{"applicationId":"app-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on resume, got %d", rec.Code)
	}
	resp = decodeStart(t, rec)
	if !resp.Resumed || resp.CurrentPhase != 2 || resp.PhaseQuestionIndex != 1 {
		t.Fatalf("unexpected resume payload: %+v", resp)
	}
	if len(resp.ConversationContext) != 3 || resp.ConversationContext[1].Role != interview.RoleUser {
		t.Fatalf("expected full transcript on resume, got %+v", resp.ConversationContext)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	for _, key := range []string{"isComplete", "conversationContext"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("start response missing %q", key)
		}
	}
}

func decodeStart(t *testing.T, rec *httptest.ResponseRecorder) startInterviewResponse {
	t.Helper()
	var resp startInterviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestSubmitResponse_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: timeout", interview.ErrInterviewerUnavailable), http.StatusServiceUnavailable},
		{interview.ErrSessionComplete, http.StatusConflict},
		{interview.ErrConcurrentTurn, http.StatusConflict},
		{interview.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: boom", interview.ErrConversionFailed), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		server, _, interviews := newTestServer()
		interviews.submitErr = tc.err

		rec := do(t, server.routes(), http.MethodPost, "/interview/respond", `{"sessionId":"s1","responseText":"hi"}`)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
	}
}

func TestSubmitResponse_Completion(t *testing.T) {
	server, _, interviews := newTestServer()
	result := application.ResultApproved
	score := 88.0
	interviews.turn = interview.TurnResult{SessionID: "s1", ResponseID: "r9", Message: "done", CurrentPhase: 6, IsComplete: true, FinalResult: &result, FinalScore: &score}

	rec := do(t, server.routes(), http.MethodPost, "/interview/respond", `{"sessionId":"s1","responseText":"bye"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp submitResponseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsComplete || resp.ResponseID != "r9" || resp.FinalResult == nil || *resp.FinalScore != 88 {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestCompleteInterview_ServiceKey(t *testing.T) {
	server, _, interviews := newTestServer()
	server.serviceKey = "s3cret"
	interviews.decision = interview.Decision{SessionID: "s1", ApplicationID: "app-1", RawScore: 80, AdjustedScore: 74, Result: application.ResultRejected}
	h := server.routes()

	body := `{"sessionId":"s1","totalScore":80,"redFlags":["a","b","c"]}`
	if rec := do(t, h, http.MethodPost, "/interview/complete", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/interview/complete", body, serviceKeyHeader, "s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp completeInterviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalScore != 74 || resp.Result != application.ResultRejected {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if interviews.completeIn.TotalScore != 80 || len(interviews.completeIn.RedFlags) != 3 {
		t.Fatalf("unexpected complete params: %+v", interviews.completeIn)
	}
}

func TestCompleteInterview_RequiresTotalScore(t *testing.T) {
	server, _, _ := newTestServer()
	rec := do(t, server.routes(), http.MethodPost, "/interview/complete", `{"sessionId":"s1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateProgress_PassesSparsePatch(t *testing.T) {
	server, _, interviews := newTestServer()
	rec := do(t, server.routes(), http.MethodPatch, "/interview/s1/progress", `{"currentPhase":3,"phase2Score":21}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p := interviews.progress
	if p.CurrentPhase == nil || *p.CurrentPhase != 3 || p.PhaseScores[1] == nil || *p.PhaseScores[1] != 21 {
		t.Fatalf("unexpected patch: %+v", p)
	}
	if p.PhaseScores[0] != nil || p.QuestionIndex != nil || p.RedFlags != nil {
		t.Fatalf("expected absent fields to stay nil: %+v", p)
	}
}

func TestLogin(t *testing.T) {
	server, _, _ := newTestServer()
	h := server.routes()

	if rec := do(t, h, http.MethodPost, "/auth/login", `{"phone":"050","password":"nope"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/auth/login", `{"phone":"050","password":"correct-horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token != "tok" || resp.User.Role != auth.RoleSupervisor {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleBroker_Success(t *testing.T) {
	now := time.Date(2024, 10, 31, 15, 4, 5, 0, time.UTC)
	server, _, _ := newTestServer()
	server.brokerService = broker.NewService(&stubBrokerRepo{
		profile: broker.Profile{UserID: "b1", Name: "Metro Realty", IsActive: true, AreaIDs: []string{"north"}, CreatedAt: now},
	})

	rec := do(t, server.routes(), http.MethodGet, "/brokers/b1", "", "Authorization", "Bearer supervisor-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp brokerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UserID != "b1" || resp.Name != "Metro Realty" || !resp.IsActive {
		t.Fatalf("unexpected response payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), resp.CreatedAt)
	}
}

func TestHandleBroker_NotFound(t *testing.T) {
	server, _, _ := newTestServer()
	server.brokerService = broker.NewService(&stubBrokerRepo{err: broker.ErrNotFound})

	rec := do(t, server.routes(), http.MethodGet, "/brokers/missing", "", "Authorization", "Bearer supervisor-token")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleBrokers_List(t *testing.T) {
	now := time.Now().UTC()
	server, _, _ := newTestServer()
	server.brokerService = broker.NewService(&stubBrokerRepo{
		profiles: []broker.Profile{
			{UserID: "b1", Name: "Alpha Realty", CreatedAt: now},
			{UserID: "b2", Name: "Beta Realty", CreatedAt: now},
		},
	})

	rec := do(t, server.routes(), http.MethodGet, "/brokers?limit=1", "", "Authorization", "Bearer supervisor-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Items []brokerResponse `json:"items"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Total != 1 || payload.Items[0].UserID != "b1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(payload.Items[0].AreaIDs) != 0 || payload.Items[0].AreaIDs == nil {
		t.Fatalf("expected empty area list, got %v", payload.Items[0].AreaIDs)
	}
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer()
	server.ready = func(context.Context) error { return errors.New("db down") }

	if rec := do(t, server.routes(), http.MethodGet, "/healthz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestWarnOpenServiceEndpoints(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(core)

	warnOpenServiceEndpoints(log, "configured")
	if logs.Len() != 0 {
		t.Fatalf("expected no warning with a service key, got %d entries", logs.Len())
	}

	warnOpenServiceEndpoints(log, "")
	entries := logs.FilterMessageSnippet("service_key is empty").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warning for an empty service key, got %+v", logs.All())
	}
}
