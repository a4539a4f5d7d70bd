package model

import (
	"errors"

	"github.com/google/uuid"
)

// ErrRubricAuthoritative is returned when marks are set directly on a theory
// question that carries a rubric.
var ErrRubricAuthoritative = errors.New("question marks are derived from its rubric")

// Unanswered marks an objective question with no selected option.
const Unanswered = -1

// ObjectiveQuestion is a single-choice question.
type ObjectiveQuestion struct {
	ID            uuid.UUID `json:"id" validate:"required"`
	Prompt        string    `json:"prompt" validate:"required"`
	Image         string    `json:"image,omitempty"`
	Options       []string  `json:"options" validate:"min=2"`
	CorrectOption int       `json:"correct_option" validate:"min=0"`
}

// IsCorrect reports whether option selects the correct answer.
func (q ObjectiveQuestion) IsCorrect(option int) bool {
	return option >= 0 && option < len(q.Options) && option == q.CorrectOption
}

// RubricItem is one scored criterion of a theory question.
type RubricItem struct {
	Description string `json:"description" validate:"required"`
	Marks       int    `json:"marks" validate:"min=0"`
}

// RubricTotal sums the marks of all rubric items.
func RubricTotal(items []RubricItem) int {
	total := 0
	for _, it := range items {
		total += it.Marks
	}
	return total
}

// TheoryQuestion is a free-text question graded by a human.
type TheoryQuestion struct {
	ID     uuid.UUID    `json:"id" validate:"required"`
	Prompt string       `json:"prompt" validate:"required"`
	Image  string       `json:"image,omitempty"`
	Marks  int          `json:"marks" validate:"min=0"`
	Rubric []RubricItem `json:"rubric,omitempty" validate:"dive"`
}

// SetRubric replaces the rubric and recomputes the question's marks from it.
func (q *TheoryQuestion) SetRubric(items []RubricItem) {
	q.Rubric = append([]RubricItem(nil), items...)
	if len(q.Rubric) > 0 {
		q.Marks = RubricTotal(q.Rubric)
	}
}

// SetMarks sets the marks directly. It is rejected while a rubric exists.
func (q *TheoryQuestion) SetMarks(marks int) error {
	if len(q.Rubric) > 0 {
		return ErrRubricAuthoritative
	}
	q.Marks = marks
	return nil
}

// RubricConsistent reports whether marks agree with a non-empty rubric.
func (q TheoryQuestion) RubricConsistent() bool {
	return len(q.Rubric) == 0 || q.Marks == RubricTotal(q.Rubric)
}
