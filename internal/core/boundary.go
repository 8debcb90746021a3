package core

const (
	MessageOutsideCurriculum = "I can only help with topics covered in your current curriculum. " +
		"This question seems to be outside our materials."
	MessageNoClearMatch = "I'm not finding clear information about this in our curriculum. " +
		"Could you rephrase or ask about a related topic we've covered?"
)

// GateDecision is the outcome of the curriculum boundary check. Denied
// decisions always carry a refusal message and are flagged for review.
type GateDecision struct {
	Allowed       bool
	Candidates    []RankedResult
	Message       string
	FlagForReview bool
}

// CheckBoundary decides whether the tutor may answer from candidates. Only
// candidates of subjectID count, and the best of them must reach threshold.
// It must run before any generation call.
func CheckBoundary(candidates []RankedResult, subjectID string, threshold float64) GateDecision {
	var valid []RankedResult
	for _, c := range candidates {
		if subjectID != "" && c.SubjectID == subjectID {
			valid = append(valid, c)
		}
	}

	if len(valid) == 0 {
		return GateDecision{Message: MessageOutsideCurriculum, FlagForReview: true}
	}

	best := valid[0].CombinedScore
	for _, c := range valid[1:] {
		best = max(best, c.CombinedScore)
	}
	if best < threshold {
		return GateDecision{Message: MessageNoClearMatch, FlagForReview: true}
	}

	return GateDecision{Allowed: true, Candidates: valid}
}
