package engine

import "github.com/stemsi/exstem-engine/internal/model"

// Retake decision reasons.
const (
	ReasonFirstAttempt   = "first attempt"
	ReasonEligible       = "eligible for retake"
	ReasonNotAllowed     = "retakes are not allowed"
	ReasonPendingGrade   = "latest attempt is not graded yet"
	ReasonPassed         = "latest attempt already passed"
	ReasonLimitReached   = "maximum attempts reached"
	ReasonNoMarks        = "assessment has no marks to compare against"
	ReasonNoRetakePolicy = "assessment has no retake policy"
	ReasonAlreadyDone    = "assignment already submitted"
)

// Decision is the outcome of a retake check.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	NextAttemptNumber int    `json:"next_attempt_number"`
	Reason            string `json:"reason"`
}

// CanRetake decides whether a new attempt may begin after prior attempts.
// A retake is allowed when the policy allows it, the latest attempt is
// graded below the passing percentage, and fewer than MaxAttempts exist.
func CanRetake(prior []model.Attempt, policy model.RetakePolicy, totalMarks int) Decision {
	next := len(prior) + 1
	if len(prior) == 0 {
		return Decision{Allowed: true, NextAttemptNumber: 1, Reason: ReasonFirstAttempt}
	}

	deny := func(reason string) Decision {
		return Decision{Allowed: false, NextAttemptNumber: next, Reason: reason}
	}

	if !policy.Allowed {
		return deny(ReasonNotAllowed)
	}
	if len(prior) >= policy.MaxAttempts {
		return deny(ReasonLimitReached)
	}

	latest := prior[0]
	for _, a := range prior[1:] {
		if a.AttemptNumber > latest.AttemptNumber {
			latest = a
		}
	}
	if latest.Grade == nil {
		return deny(ReasonPendingGrade)
	}
	if totalMarks <= 0 {
		return deny(ReasonNoMarks)
	}

	pct := float64(*latest.Grade) / float64(totalMarks) * 100
	if pct >= float64(policy.PassingGradePercentage) {
		return deny(ReasonPassed)
	}
	return Decision{Allowed: true, NextAttemptNumber: next, Reason: ReasonEligible}
}
