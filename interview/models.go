package interview

import (
	"fmt"
	"time"

	"brokeronboard/application"
)

// PhaseCount is the number of interview phases.
const PhaseCount = 6

// PhaseMaxScores holds the maximum score of each phase, in phase order:
// ice-breaking, experience, terminology, scenarios, numbers, credibility.
var PhaseMaxScores = [PhaseCount]float64{5, 30, 20, 25, 15, 5}

// PhaseScores holds the per-phase scores of a session, index 0 being phase 1.
type PhaseScores [PhaseCount]float64

// Sum returns the raw total across all phases.
func (p PhaseScores) Sum() float64 {
	var total float64
	for _, v := range p {
		total += v
	}
	return total
}

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of the interview transcript. Timestamps are kept as
// the RFC 3339 strings they were recorded with.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewTurn stamps a transcript entry with at.
func NewTurn(role, content string, at time.Time) Turn {
	return Turn{Role: role, Content: content, Timestamp: at.UTC().Format(time.RFC3339Nano)}
}

// Session is one interview attempt for an application.
type Session struct {
	ID            string
	ApplicationID string
	CurrentPhase  int
	QuestionIndex int
	IsComplete    bool
	Scores        PhaseScores
	RedFlags      []string
	TotalScore    *float64
	FinalResult   *application.Result
	StartedAt     time.Time
	CompletedAt   *time.Time
	Transcript    []Turn
	// Version increments on every write and guards the post-AI merge.
	Version int
}

// LastAssistantMessage returns the most recent interviewer message, if any.
func (s Session) LastAssistantMessage() string {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleAssistant {
			return s.Transcript[i].Content
		}
	}
	return ""
}

// Response is one applicant answer. Rows are append-only.
type Response struct {
	ID               string
	SessionID        string
	Phase            int
	QuestionKey      string
	Text             string
	Score            *float64
	EvaluationNotes  *string
	RedFlagsDetected []string
	CreatedAt        time.Time
}

// QuestionKey names the question answered at phase and index.
func QuestionKey(phase, index int) string {
	return fmt.Sprintf("phase%d_q%d", phase, index)
}

// StateUpdate is the sparse session state returned by the interviewer.
// A nil field means the interviewer did not send it.
type StateUpdate struct {
	CurrentPhase  *int
	QuestionIndex *int
	Transcript    *[]Turn
	PhaseScores   [PhaseCount]*float64
	RedFlags      *[]string
	TotalScore    *float64
}

// Evaluation is the interviewer's assessment of a single answer.
type Evaluation struct {
	Score    *float64
	Notes    *string
	RedFlags []string
}

// Reply is the interviewer's answer to an applicant response.
type Reply struct {
	Message    string
	IsComplete bool
	Update     *StateUpdate
	Evaluation *Evaluation
}

// StartResult is returned by Service.Start.
type StartResult struct {
	Session Session
	Message string
	// Resumed is set when an already active session was returned.
	Resumed bool
	// Fallback is set when the interviewer was unreachable and the default greeting was used.
	Fallback bool
}

// TurnResult is returned by Service.Submit.
type TurnResult struct {
	SessionID     string
	ResponseID    string
	Message       string
	CurrentPhase  int
	QuestionIndex int
	IsComplete    bool
	FinalResult   *application.Result
	FinalScore    *float64
}

// CompleteParams finalises a session.
type CompleteParams struct {
	SessionID  string
	TotalScore float64
	RedFlags   []string
}

// Decision is the outcome of completing a session.
type Decision struct {
	SessionID       string
	ApplicationID   string
	RawScore        float64
	AdjustedScore   float64
	Result          application.Result
	RedFlags        []string
	ConvertedUserID *string
	// AlreadyComplete is set when the session had been finalised before the call.
	AlreadyComplete bool
}

// ProgressUpdate is a manual sparse patch of an open session.
type ProgressUpdate struct {
	CurrentPhase  *int
	QuestionIndex *int
	PhaseScores   [PhaseCount]*float64
	RedFlags      *[]string
	Transcript    *[]Turn
}

// SessionDetails bundles a session with its responses.
type SessionDetails struct {
	Session   Session
	Responses []Response
}

// ApplicationDetails is the supervisor view of an application and every interview attempt.
type ApplicationDetails struct {
	Application application.Application
	Sessions    []SessionDetails
}
