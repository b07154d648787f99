package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"brokeronboard/application"
	"brokeronboard/interview"
)

type startInterviewRequest struct {
	ApplicationID string `json:"applicationId"`
}

type startInterviewResponse struct {
	SessionID           string         `json:"sessionId"`
	Message             string         `json:"message"`
	CurrentPhase        int            `json:"currentPhase"`
	PhaseQuestionIndex  int            `json:"phaseQuestionIndex"`
	IsComplete          bool           `json:"isComplete"`
	ConversationContext []turnResponse `json:"conversationContext"`
	Resumed             bool           `json:"resumed"`
	Fallback            bool           `json:"fallback"`
}

type submitResponseRequest struct {
	SessionID    string `json:"sessionId"`
	ResponseText string `json:"responseText"`
}

type submitResponseResponse struct {
	SessionID          string              `json:"sessionId"`
	ResponseID         string              `json:"responseId"`
	Message            string              `json:"message"`
	CurrentPhase       int                 `json:"currentPhase"`
	PhaseQuestionIndex int                 `json:"phaseQuestionIndex"`
	IsComplete         bool                `json:"isComplete"`
	FinalResult        *application.Result `json:"finalResult,omitempty"`
	FinalScore         *float64            `json:"finalScore,omitempty"`
}

type completeInterviewRequest struct {
	SessionID  string   `json:"sessionId"`
	TotalScore *float64 `json:"totalScore"`
	RedFlags   []string `json:"redFlags"`
}

type completeInterviewResponse struct {
	SessionID       string             `json:"sessionId"`
	ApplicationID   string             `json:"applicationId"`
	RawScore        float64            `json:"rawScore"`
	TotalScore      float64            `json:"totalScore"`
	Result          application.Result `json:"result"`
	RedFlags        []string           `json:"redFlags"`
	ConvertedUserID *string            `json:"convertedUserId"`
	AlreadyComplete bool               `json:"alreadyComplete"`
}

type updateProgressRequest struct {
	CurrentPhase        *int              `json:"currentPhase"`
	PhaseQuestionIndex  *int              `json:"phaseQuestionIndex"`
	Phase1Score         *float64          `json:"phase1Score"`
	Phase2Score         *float64          `json:"phase2Score"`
	Phase3Score         *float64          `json:"phase3Score"`
	Phase4Score         *float64          `json:"phase4Score"`
	Phase5Score         *float64          `json:"phase5Score"`
	Phase6Score         *float64          `json:"phase6Score"`
	RedFlags            *[]string         `json:"redFlags"`
	ConversationContext *[]interview.Turn `json:"conversationContext"`
}

func (s *Server) handleStartInterview(w http.ResponseWriter, r *http.Request) {
	var req startInterviewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.interviews.Start(r.Context(), req.ApplicationID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, startInterviewResponse{
		SessionID:           res.Session.ID,
		Message:             res.Message,
		CurrentPhase:        res.Session.CurrentPhase,
		PhaseQuestionIndex:  res.Session.QuestionIndex,
		IsComplete:          res.Session.IsComplete,
		ConversationContext: toTurnResponses(res.Session.Transcript),
		Resumed:             res.Resumed,
		Fallback:            res.Fallback,
	})
}

func (s *Server) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	var req submitResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.interviews.Submit(r.Context(), req.SessionID, req.ResponseText)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponseResponse{
		SessionID:          res.SessionID,
		ResponseID:         res.ResponseID,
		Message:            res.Message,
		CurrentPhase:       res.CurrentPhase,
		PhaseQuestionIndex: res.QuestionIndex,
		IsComplete:         res.IsComplete,
		FinalResult:        res.FinalResult,
		FinalScore:         res.FinalScore,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	details, err := s.interviews.Get(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDetails(details))
}

func (s *Server) handleCompleteInterview(w http.ResponseWriter, r *http.Request) {
	var req completeInterviewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.TotalScore == nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid_input", "totalScore is required")
		return
	}

	d, err := s.interviews.Complete(r.Context(), interview.CompleteParams{
		SessionID:  req.SessionID,
		TotalScore: *req.TotalScore,
		RedFlags:   req.RedFlags,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flags := d.RedFlags
	if flags == nil {
		flags = []string{}
	}
	writeJSON(w, http.StatusOK, completeInterviewResponse{
		SessionID:       d.SessionID,
		ApplicationID:   d.ApplicationID,
		RawScore:        d.RawScore,
		TotalScore:      d.AdjustedScore,
		Result:          d.Result,
		RedFlags:        flags,
		ConvertedUserID: d.ConvertedUserID,
		AlreadyComplete: d.AlreadyComplete,
	})
}

func (s *Server) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	var req updateProgressRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	session, err := s.interviews.UpdateProgress(r.Context(), chi.URLParam(r, "sessionId"), interview.ProgressUpdate{
		CurrentPhase:  req.CurrentPhase,
		QuestionIndex: req.PhaseQuestionIndex,
		PhaseScores: [interview.PhaseCount]*float64{
			req.Phase1Score, req.Phase2Score, req.Phase3Score,
			req.Phase4Score, req.Phase5Score, req.Phase6Score,
		},
		RedFlags:   req.RedFlags,
		Transcript: req.ConversationContext,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}
