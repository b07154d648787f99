package interviewer

import "brokeronboard/interview"

type startRequest struct {
	ApplicationID string `json:"applicationId"`
}

type startResponse struct {
	Message string `json:"message"`
}

// SessionState is the session snapshot sent with every applicant response.
type SessionState struct {
	SessionID           string           `json:"sessionId"`
	CurrentPhase        int              `json:"currentPhase"`
	PhaseQuestionIndex  int              `json:"phaseQuestionIndex"`
	ConversationContext []interview.Turn `json:"conversationContext"`
	Phase1Score         float64          `json:"phase1Score"`
	Phase2Score         float64          `json:"phase2Score"`
	Phase3Score         float64          `json:"phase3Score"`
	Phase4Score         float64          `json:"phase4Score"`
	Phase5Score         float64          `json:"phase5Score"`
	Phase6Score         float64          `json:"phase6Score"`
	RedFlags            []string         `json:"redFlags"`
}

type respondRequest struct {
	SessionState SessionState `json:"session_state"`
	ResponseText string       `json:"response_text"`
}

// UpdatedState mirrors the interviewer's sparse state update. Absent keys
// decode to nil.
type UpdatedState struct {
	CurrentPhase        *int              `json:"currentPhase"`
	PhaseQuestionIndex  *int              `json:"phaseQuestionIndex"`
	ConversationContext *[]interview.Turn `json:"conversationContext"`
	Phase1Score         *float64          `json:"phase1Score"`
	Phase2Score         *float64          `json:"phase2Score"`
	Phase3Score         *float64          `json:"phase3Score"`
	Phase4Score         *float64          `json:"phase4Score"`
	Phase5Score         *float64          `json:"phase5Score"`
	Phase6Score         *float64          `json:"phase6Score"`
	RedFlags            *[]string         `json:"redFlags"`
	TotalScore          *float64          `json:"totalScore"`
}

type evaluation struct {
	Score            *float64 `json:"score"`
	Notes            *string  `json:"notes"`
	DetectedRedFlags []string `json:"detected_red_flags"`
}

type respondResponse struct {
	Message      string        `json:"message"`
	IsComplete   bool          `json:"is_complete"`
	UpdatedState *UpdatedState `json:"updated_state"`
	Evaluation   *evaluation   `json:"evaluation"`
}

func toSessionState(s interview.Session) SessionState {
	transcript := s.Transcript
	if transcript == nil {
		transcript = []interview.Turn{}
	}
	flags := s.RedFlags
	if flags == nil {
		flags = []string{}
	}
	return SessionState{
		SessionID:           s.ID,
		CurrentPhase:        s.CurrentPhase,
		PhaseQuestionIndex:  s.QuestionIndex,
		ConversationContext: transcript,
		Phase1Score:         s.Scores[0],
		Phase2Score:         s.Scores[1],
		Phase3Score:         s.Scores[2],
		Phase4Score:         s.Scores[3],
		Phase5Score:         s.Scores[4],
		Phase6Score:         s.Scores[5],
		RedFlags:            flags,
	}
}

func (u *UpdatedState) toUpdate() *interview.StateUpdate {
	if u == nil {
		return nil
	}
	return &interview.StateUpdate{
		CurrentPhase:  u.CurrentPhase,
		QuestionIndex: u.PhaseQuestionIndex,
		Transcript:    u.ConversationContext,
		PhaseScores: [interview.PhaseCount]*float64{
			u.Phase1Score, u.Phase2Score, u.Phase3Score,
			u.Phase4Score, u.Phase5Score, u.Phase6Score,
		},
		RedFlags:   u.RedFlags,
		TotalScore: u.TotalScore,
	}
}

func (r respondResponse) toReply() interview.Reply {
	reply := interview.Reply{
		Message:    r.Message,
		IsComplete: r.IsComplete,
		Update:     r.UpdatedState.toUpdate(),
	}
	if r.Evaluation != nil {
		reply.Evaluation = &interview.Evaluation{
			Score:    r.Evaluation.Score,
			Notes:    r.Evaluation.Notes,
			RedFlags: r.Evaluation.DetectedRedFlags,
		}
	}
	return reply
}
