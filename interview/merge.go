package interview

import (
	"fmt"
	"time"
)

// mergeReply folds the interviewer's reply into s. Each field of the sparse
// update replaces the stored value only when present; red flags are replaced
// wholesale. Out-of-range values are clamped and reported as adjustments.
//
// The transcript stays append-only: an interviewer transcript is adopted only
// when it extends the stored one, otherwise the reply message is appended.
func mergeReply(s Session, reply Reply, at time.Time) (Session, []string) {
	var adjustments []string
	merged := s
	merged.RedFlags = append([]string(nil), s.RedFlags...)
	merged.Transcript = append([]Turn(nil), s.Transcript...)

	adoptedTranscript := false
	if u := reply.Update; u != nil {
		if u.CurrentPhase != nil {
			phase := *u.CurrentPhase
			if phase < 1 || phase > PhaseCount {
				clamped := clampInt(phase, 1, PhaseCount)
				adjustments = append(adjustments, fmt.Sprintf("currentPhase %d clamped to %d", phase, clamped))
				phase = clamped
			}
			merged.CurrentPhase = phase
		}
		if u.QuestionIndex != nil {
			idx := *u.QuestionIndex
			if idx < 0 {
				adjustments = append(adjustments, fmt.Sprintf("phaseQuestionIndex %d clamped to 0", idx))
				idx = 0
			}
			merged.QuestionIndex = idx
		}
		for i, score := range u.PhaseScores {
			if score == nil {
				continue
			}
			v := *score
			if v < 0 || v > PhaseMaxScores[i] {
				clamped := clampFloat(v, 0, PhaseMaxScores[i])
				adjustments = append(adjustments, fmt.Sprintf("phase%dScore %g clamped to %g", i+1, v, clamped))
				v = clamped
			}
			merged.Scores[i] = v
		}
		if u.RedFlags != nil {
			merged.RedFlags = append([]string{}, (*u.RedFlags)...)
		}
		if u.Transcript != nil {
			if extendsTranscript(s.Transcript, *u.Transcript) {
				merged.Transcript = append([]Turn{}, (*u.Transcript)...)
				adoptedTranscript = true
			} else {
				adjustments = append(adjustments, "interviewer transcript does not extend stored transcript; appended reply instead")
			}
		}
	}

	if !adoptedTranscript && reply.Message != "" {
		merged.Transcript = append(merged.Transcript, NewTurn(RoleAssistant, reply.Message, at))
	}

	return merged, adjustments
}

// extendsTranscript reports whether next starts with every turn of current.
// Turns are compared by role and content; timestamps may be reformatted upstream.
func extendsTranscript(current, next []Turn) bool {
	if len(next) < len(current) {
		return false
	}
	for i, turn := range current {
		if next[i].Role != turn.Role || next[i].Content != turn.Content {
			return false
		}
	}
	return true
}

// applyProgress folds a manual patch into s.
func applyProgress(s Session, p ProgressUpdate) (Session, error) {
	merged := s
	if p.CurrentPhase != nil {
		if *p.CurrentPhase < 1 || *p.CurrentPhase > PhaseCount {
			return Session{}, fmt.Errorf("%w: currentPhase must be between 1 and %d", ErrInvalidInput, PhaseCount)
		}
		merged.CurrentPhase = *p.CurrentPhase
	}
	if p.QuestionIndex != nil {
		if *p.QuestionIndex < 0 {
			return Session{}, fmt.Errorf("%w: phaseQuestionIndex must not be negative", ErrInvalidInput)
		}
		merged.QuestionIndex = *p.QuestionIndex
	}
	for i, score := range p.PhaseScores {
		if score == nil {
			continue
		}
		if *score < 0 || *score > PhaseMaxScores[i] {
			return Session{}, fmt.Errorf("%w: phase%d score must be between 0 and %g", ErrInvalidInput, i+1, PhaseMaxScores[i])
		}
		merged.Scores[i] = *score
	}
	if p.RedFlags != nil {
		merged.RedFlags = append([]string{}, (*p.RedFlags)...)
	}
	if p.Transcript != nil {
		merged.Transcript = append([]Turn{}, (*p.Transcript)...)
	}
	return merged, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
