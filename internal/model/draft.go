package model

import (
	"time"

	"github.com/google/uuid"
)

// Draft is an in-progress snapshot of a session's answers. It is written
// after every mutation so answers survive a failed submission.
type Draft struct {
	AssessmentID  uuid.UUID `json:"assessment_id"`
	StudentID     string    `json:"student_id"`
	AttemptNumber int       `json:"attempt_number"`
	Answers       AnswerSet `json:"answers"`
	// Order holds the canonical index shown at each display position.
	Order   []int     `json:"order"`
	SavedAt time.Time `json:"saved_at"`
}
