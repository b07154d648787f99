package main

import (
	"time"

	"brokeronboard/application"
	"brokeronboard/auth"
	"brokeronboard/broker"
	"brokeronboard/interview"
)

type applicationResponse struct {
	ID                   string              `json:"id"`
	Phone                string              `json:"phone"`
	Name                 string              `json:"name"`
	Email                *string             `json:"email"`
	RequestedAreaIDs     []string            `json:"requestedAreaIds"`
	Status               application.Status  `json:"status"`
	InterviewScore       *float64            `json:"interviewScore"`
	InterviewResult      *application.Result `json:"interviewResult"`
	CreatedAt            string              `json:"createdAt"`
	InterviewStartedAt   *string             `json:"interviewStartedAt"`
	InterviewCompletedAt *string             `json:"interviewCompletedAt"`
	Notes                *string             `json:"notes"`
	ConvertedUserID      *string             `json:"convertedUserId"`
}

type turnResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type sessionResponse struct {
	ID                  string              `json:"sessionId"`
	ApplicationID       string              `json:"applicationId"`
	CurrentPhase        int                 `json:"currentPhase"`
	PhaseQuestionIndex  int                 `json:"phaseQuestionIndex"`
	IsComplete          bool                `json:"isComplete"`
	PhaseScores         []float64           `json:"phaseScores"`
	RedFlags            []string            `json:"redFlags"`
	TotalScore          *float64            `json:"totalScore"`
	FinalResult         *application.Result `json:"finalResult"`
	StartedAt           string              `json:"startedAt"`
	CompletedAt         *string             `json:"completedAt"`
	ConversationContext []turnResponse      `json:"conversationContext"`
	Responses           []responseResponse  `json:"responses,omitempty"`
}

type responseResponse struct {
	ID               string   `json:"id"`
	Phase            int      `json:"phase"`
	QuestionKey      string   `json:"questionKey"`
	ResponseText     string   `json:"responseText"`
	Score            *float64 `json:"score"`
	EvaluationNotes  *string  `json:"evaluationNotes"`
	RedFlagsDetected []string `json:"redFlagsDetected"`
	CreatedAt        string   `json:"createdAt"`
}

type brokerResponse struct {
	UserID                 string   `json:"userId"`
	Name                   string   `json:"name"`
	Phone                  string   `json:"phone"`
	Email                  *string  `json:"email"`
	IsActive               bool     `json:"isActive"`
	OverallRate            float64  `json:"overallRate"`
	ResponseSpeedScore     float64  `json:"responseSpeedScore"`
	ClosingRate            float64  `json:"closingRate"`
	LostRequestsCount      int      `json:"lostRequestsCount"`
	WithdrawnRequestsCount int      `json:"withdrawnRequestsCount"`
	AreaIDs                []string `json:"areaIds"`
	CreatedAt              string   `json:"createdAt"`
}

type userResponse struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
	Email *string   `json:"email"`
	Role  auth.Role `json:"role"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toApplicationResponse(a application.Application) applicationResponse {
	areas := a.RequestedAreaIDs
	if areas == nil {
		areas = []string{}
	}
	return applicationResponse{
		ID:                   a.ID,
		Phone:                a.Phone,
		Name:                 a.Name,
		Email:                a.Email,
		RequestedAreaIDs:     areas,
		Status:               a.Status,
		InterviewScore:       a.InterviewScore,
		InterviewResult:      a.InterviewResult,
		CreatedAt:            formatTime(a.CreatedAt),
		InterviewStartedAt:   formatTimePtr(a.InterviewStartedAt),
		InterviewCompletedAt: formatTimePtr(a.InterviewCompletedAt),
		Notes:                a.Notes,
		ConvertedUserID:      a.ConvertedUserID,
	}
}

func toTurnResponses(transcript []interview.Turn) []turnResponse {
	turns := make([]turnResponse, 0, len(transcript))
	for _, t := range transcript {
		turns = append(turns, turnResponse{Role: t.Role, Content: t.Content, Timestamp: t.Timestamp})
	}
	return turns
}

func toSessionResponse(s interview.Session) sessionResponse {
	flags := s.RedFlags
	if flags == nil {
		flags = []string{}
	}
	return sessionResponse{
		ID:                  s.ID,
		ApplicationID:       s.ApplicationID,
		CurrentPhase:        s.CurrentPhase,
		PhaseQuestionIndex:  s.QuestionIndex,
		IsComplete:          s.IsComplete,
		PhaseScores:         s.Scores[:],
		RedFlags:            flags,
		TotalScore:          s.TotalScore,
		FinalResult:         s.FinalResult,
		StartedAt:           formatTime(s.StartedAt),
		CompletedAt:         formatTimePtr(s.CompletedAt),
		ConversationContext: toTurnResponses(s.Transcript),
	}
}

func toResponseResponse(r interview.Response) responseResponse {
	flags := r.RedFlagsDetected
	if flags == nil {
		flags = []string{}
	}
	return responseResponse{
		ID:               r.ID,
		Phase:            r.Phase,
		QuestionKey:      r.QuestionKey,
		ResponseText:     r.Text,
		Score:            r.Score,
		EvaluationNotes:  r.EvaluationNotes,
		RedFlagsDetected: flags,
		CreatedAt:        formatTime(r.CreatedAt),
	}
}

func toSessionDetails(d interview.SessionDetails) sessionResponse {
	resp := toSessionResponse(d.Session)
	resp.Responses = make([]responseResponse, 0, len(d.Responses))
	for _, r := range d.Responses {
		resp.Responses = append(resp.Responses, toResponseResponse(r))
	}
	return resp
}

func toBrokerResponse(p broker.Profile) brokerResponse {
	areas := p.AreaIDs
	if areas == nil {
		areas = []string{}
	}
	return brokerResponse{
		UserID:                 p.UserID,
		Name:                   p.Name,
		Phone:                  p.Phone,
		Email:                  p.Email,
		IsActive:               p.IsActive,
		OverallRate:            p.OverallRate,
		ResponseSpeedScore:     p.ResponseSpeedScore,
		ClosingRate:            p.ClosingRate,
		LostRequestsCount:      p.LostRequestsCount,
		WithdrawnRequestsCount: p.WithdrawnRequestsCount,
		AreaIDs:                areas,
		CreatedAt:              formatTime(p.CreatedAt),
	}
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Phone: u.Phone, Email: u.Email, Role: u.Role}
}
