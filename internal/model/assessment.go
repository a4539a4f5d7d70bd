package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentKind distinguishes assignments from exams.
type AssessmentKind string

const (
	AssessmentKindAssignment AssessmentKind = "ASSIGNMENT"
	AssessmentKindExam       AssessmentKind = "EXAM"
)

// QuestionType enumerates the question families an assessment can hold.
type QuestionType string

const (
	QuestionTypeObjective QuestionType = "OBJECTIVE"
	QuestionTypeTheory    QuestionType = "THEORY"
)

// RetakePolicy controls whether a student may sit an exam again.
type RetakePolicy struct {
	Allowed                bool `json:"allowed"`
	MaxAttempts            int  `json:"max_attempts" validate:"min=1"`
	PassingGradePercentage int  `json:"passing_grade_percentage" validate:"min=0,max=100"`
}

// Assessment is a published assignment or exam. It is read-only to the engine.
type Assessment struct {
	ID         uuid.UUID      `json:"id" validate:"required"`
	Kind       AssessmentKind `json:"kind" validate:"required,oneof=ASSIGNMENT EXAM"`
	Type       QuestionType   `json:"type" validate:"required,oneof=OBJECTIVE THEORY"`
	Title      string         `json:"title" validate:"max=255"`
	TotalMarks int            `json:"total_marks" validate:"min=0"`

	Objective []ObjectiveQuestion `json:"objective_questions,omitempty" validate:"dive"`
	Theory    []TheoryQuestion    `json:"theory_questions,omitempty" validate:"dive"`

	// Assignment scheduling.
	DueDate *time.Time `json:"due_date,omitempty"`

	// Exam scheduling.
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty" validate:"min=0"`

	ShuffleQuestions bool          `json:"shuffle_questions,omitempty"`
	RetakePolicy     *RetakePolicy `json:"retake_policy,omitempty"`
}

// QuestionCount returns the number of questions in canonical order.
func (a *Assessment) QuestionCount() int {
	switch a.Type {
	case QuestionTypeObjective:
		return len(a.Objective)
	case QuestionTypeTheory:
		return len(a.Theory)
	}
	return 0
}

// IsExam reports whether the assessment is an exam.
func (a *Assessment) IsExam() bool {
	return a.Kind == AssessmentKindExam
}

// ShouldShuffle reports whether the display order must be randomised.
// Only objective exams are shuffled.
func (a *Assessment) ShouldShuffle() bool {
	return a.IsExam() && a.ShuffleQuestions && a.Type == QuestionTypeObjective
}

// Window reports whether now falls within the assessment's active window.
func (a *Assessment) Window(now time.Time) bool {
	if a.IsExam() {
		if a.StartTime != nil && now.Before(*a.StartTime) {
			return false
		}
		if a.EndTime != nil && now.After(*a.EndTime) {
			return false
		}
		return true
	}
	return a.DueDate == nil || now.Before(*a.DueDate)
}

// Duration returns the time budget for a session opened at now.
// Assignments count down to the due date; exams use their fixed duration.
// A zero duration means the session expires immediately.
func (a *Assessment) Duration(now time.Time) time.Duration {
	if a.IsExam() {
		return time.Duration(a.DurationMinutes) * time.Minute
	}
	if a.DueDate == nil {
		return 0
	}
	d := a.DueDate.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
