package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ScoreObjective grades objective answers aligned to canonical order.
// Each correct answer earns totalMarks/len(questions); the sum is rounded to
// the nearest integer once. Unanswered, out-of-range and missing entries earn
// nothing. The result is always within [0, totalMarks].
func ScoreObjective(questions []model.ObjectiveQuestion, answers []int, totalMarks int) int {
	n := len(questions)
	if n == 0 || totalMarks <= 0 {
		return 0
	}

	correct := 0
	for i, q := range questions {
		if i < len(answers) && q.IsCorrect(answers[i]) {
			correct++
		}
	}

	score := int(math.Round(float64(correct*totalMarks) / float64(n)))
	if score < 0 {
		return 0
	}
	if score > totalMarks {
		return totalMarks
	}
	return score
}

// Grade computes the automatic grade for an answer set. Theory answers are
// graded by a human, so the result is nil for them.
func Grade(a *model.Assessment, answers model.AnswerSet) *int {
	switch answers.Kind() {
	case model.QuestionTypeObjective:
		opts, _ := answers.Objective()
		score := ScoreObjective(a.Objective, opts, a.TotalMarks)
		return &score
	case model.QuestionTypeTheory:
		return nil
	}
	return nil
}

// ValidateRubric checks that a non-empty rubric sums to the question's marks.
func ValidateRubric(q model.TheoryQuestion, rubric []model.RubricItem) error {
	if len(rubric) == 0 {
		return nil
	}
	if total := model.RubricTotal(rubric); total != q.Marks {
		return apperr.Validation("engine.ValidateRubric", map[string]string{
			"marks": fmt.Sprintf("marks %d must equal the rubric total %d", q.Marks, total),
		})
	}
	return nil
}

// ValidateTheorySet re-checks every theory question against the rubric the
// policy resolves for it, falling back to the question's own rubric.
func ValidateTheorySet(ctx context.Context, questions []model.TheoryQuestion, policy GradingPolicy) error {
	const op = "engine.ValidateTheorySet"
	fields := map[string]string{}
	for i, q := range questions {
		rubric := q.Rubric
		if policy != nil {
			items, ok, err := policy.RubricFor(ctx, q.ID)
			if err != nil {
				return apperr.New(apperr.CodeTransient, op, err)
			}
			if ok {
				rubric = items
			}
		}
		if err := ValidateRubric(q, rubric); err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) {
				fields[fmt.Sprintf("theory_questions[%d].marks", i)] = ae.Fields["marks"]
			}
		}
	}
	if len(fields) > 0 {
		return apperr.Validation(op, fields)
	}
	return nil
}

// ApplyManualGrade records a human grade on a pending attempt. It is the only
// permitted change to a submitted attempt.
func ApplyManualGrade(attempt *model.Attempt, grade, totalMarks int) error {
	const op = "engine.ApplyManualGrade"
	if !attempt.Pending() {
		return apperr.New(apperr.CodeConflict, op, errors.New("attempt is already graded"))
	}
	if grade < 0 || grade > totalMarks {
		return apperr.Validation(op, map[string]string{
			"grade": fmt.Sprintf("grade must be between 0 and %d", totalMarks),
		})
	}
	g := grade
	attempt.Grade = &g
	return nil
}
