package enginetest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ObjectiveExam builds an objective exam whose questions have the given
// correct options, each with four choices.
func ObjectiveExam(totalMarks int, correct ...int) model.Assessment {
	qs := make([]model.ObjectiveQuestion, len(correct))
	for i, c := range correct {
		qs[i] = model.ObjectiveQuestion{
			ID:            uuid.New(),
			Prompt:        fmt.Sprintf("Question %d", i+1),
			Options:       []string{"A", "B", "C", "D"},
			CorrectOption: c,
		}
	}
	return model.Assessment{
		ID:              uuid.New(),
		Kind:            model.AssessmentKindExam,
		Type:            model.QuestionTypeObjective,
		Title:           "Objective exam",
		TotalMarks:      totalMarks,
		Objective:       qs,
		DurationMinutes: 30,
	}
}

// TheoryAssignment builds a theory assignment due at due.
func TheoryAssignment(due time.Time, marks ...int) model.Assessment {
	qs := make([]model.TheoryQuestion, len(marks))
	total := 0
	for i, m := range marks {
		qs[i] = model.TheoryQuestion{
			ID:     uuid.New(),
			Prompt: fmt.Sprintf("Explain topic %d", i+1),
			Marks:  m,
		}
		total += m
	}
	return model.Assessment{
		ID:         uuid.New(),
		Kind:       model.AssessmentKindAssignment,
		Type:       model.QuestionTypeTheory,
		Title:      "Theory assignment",
		TotalMarks: total,
		Theory:     qs,
		DueDate:    &due,
	}
}

// GradedAttempt builds a prior attempt with a grade.
func GradedAttempt(a model.Assessment, studentID string, number, grade int) model.Attempt {
	g := grade
	now := time.Now()
	return model.Attempt{
		ID:            uuid.New(),
		AssessmentID:  a.ID,
		StudentID:     studentID,
		StartedAt:     now.Add(-time.Hour),
		SubmittedAt:   now.Add(-30 * time.Minute),
		AttemptNumber: number,
		Answers:       model.BlankAnswers(&a),
		Grade:         &g,
		Trigger:       model.SubmitTriggerManual,
	}
}
