package application

import "time"

// Status is the lifecycle state of a broker application.
type Status string

const (
	StatusPendingInterview    Status = "pending_interview"
	StatusInterviewInProgress Status = "interview_in_progress"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingInterview, StatusInterviewInProgress, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Result is the outcome of a completed interview.
type Result string

const (
	ResultApproved Result = "approved"
	ResultRejected Result = "rejected"
)

// Status maps a decision onto the terminal application status it produces.
func (r Result) Status() Status {
	if r == ResultApproved {
		return StatusApproved
	}
	return StatusRejected
}

// Application is a candidate broker's request to join. The password hash is
// deliberately absent; it is only read back by the conversion step.
type Application struct {
	ID                   string
	Phone                string
	Name                 string
	Email                *string
	RequestedAreaIDs     []string
	Status               Status
	InterviewScore       *float64
	InterviewResult      *Result
	CreatedAt            time.Time
	InterviewStartedAt   *time.Time
	InterviewCompletedAt *time.Time
	Notes                *string
	ConvertedUserID      *string
}

// StatusView is the applicant-facing projection of an application.
type StatusView struct {
	ApplicationID        string     `json:"applicationId"`
	Status               Status     `json:"status"`
	Score                *float64   `json:"score"`
	Result               *Result    `json:"result"`
	CreatedAt            time.Time  `json:"createdAt"`
	InterviewStartedAt   *time.Time `json:"interviewStartedAt"`
	InterviewCompletedAt *time.Time `json:"interviewCompletedAt"`
}

// StatusView projects a into its applicant-facing view.
func (a Application) StatusView() StatusView {
	return StatusView{
		ApplicationID:        a.ID,
		Status:               a.Status,
		Score:                a.InterviewScore,
		Result:               a.InterviewResult,
		CreatedAt:            a.CreatedAt,
		InterviewStartedAt:   a.InterviewStartedAt,
		InterviewCompletedAt: a.InterviewCompletedAt,
	}
}

// CreateParams carries the registration form of a new applicant.
type CreateParams struct {
	Phone    string
	Name     string
	Email    *string
	Password string
	AreaIDs  []string
}

// NewApplication is the row written when an application is created.
type NewApplication struct {
	ID           string
	Phone        string
	Name         string
	Email        *string
	PasswordHash string
	AreaIDs      []string
}

// Filters narrows the supervisor listing.
type Filters struct {
	Status Status
	Limit  int
	Offset int
}

// Page is one page of the supervisor listing.
type Page struct {
	Items []Application
	Total int
}
