package interview

import (
	"math"

	"brokeronboard/application"
)

const (
	// PassThreshold is the minimum adjusted score for approval.
	PassThreshold = 75.0
	// RedFlagPenalty is deducted from the total per red flag.
	RedFlagPenalty = 2.0
)

// Decide applies the red-flag penalty to total and maps the adjusted score
// onto a result. The adjusted score never drops below zero.
func Decide(total float64, redFlags []string) (float64, application.Result) {
	adjusted := math.Max(0, total-RedFlagPenalty*float64(len(redFlags)))
	if adjusted >= PassThreshold {
		return adjusted, application.ResultApproved
	}
	return adjusted, application.ResultRejected
}

// FinalScore picks the score handed to the decision: the interviewer's own
// total when it sent one, otherwise the sum of the phase scores.
func FinalScore(scores PhaseScores, reported *float64) float64 {
	if reported != nil {
		return *reported
	}
	return scores.Sum()
}
