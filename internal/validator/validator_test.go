package validator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

func validExam() model.Assessment {
	return model.Assessment{
		ID:              uuid.New(),
		Kind:            model.AssessmentKindExam,
		Type:            model.QuestionTypeObjective,
		Title:           "Biology mid-term",
		TotalMarks:      100,
		DurationMinutes: 60,
		Objective: []model.ObjectiveQuestion{{
			ID:            uuid.New(),
			Prompt:        "Which organelle makes ATP?",
			Options:       []string{"Nucleus", "Mitochondrion"},
			CorrectOption: 1,
		}},
		RetakePolicy: &model.RetakePolicy{Allowed: true, MaxAttempts: 2, PassingGradePercentage: 50},
	}
}

func TestStruct(t *testing.T) {
	due := time.Now().Add(24 * time.Hour)

	tests := []struct {
		name      string
		mutate    func(a *model.Assessment)
		wantField string
	}{
		{"valid", func(*model.Assessment) {}, ""},
		{"unknown kind", func(a *model.Assessment) { a.Kind = "QUIZ" }, "kind"},
		{"exam without duration", func(a *model.Assessment) { a.DurationMinutes = 0 }, "duration_minutes"},
		{"correct option out of range", func(a *model.Assessment) { a.Objective[0].CorrectOption = 2 }, "objective_questions[0].correct_option"},
		{"single option", func(a *model.Assessment) { a.Objective[0].Options = []string{"only"} }, "objective_questions[0].options"},
		{"bad passing percentage", func(a *model.Assessment) { a.RetakePolicy.PassingGradePercentage = 120 }, "retake_policy.passing_grade_percentage"},
		{"theory on objective", func(a *model.Assessment) {
			a.Theory = []model.TheoryQuestion{{ID: uuid.New(), Prompt: "Why?", Marks: 1}}
		}, "theory_questions"},
		{"assignment with retake policy", func(a *model.Assessment) {
			a.Kind = model.AssessmentKindAssignment
			a.DueDate = &due
		}, "retake_policy"},
		{"assignment without due date", func(a *model.Assessment) {
			a.Kind = model.AssessmentKindAssignment
			a.RetakePolicy = nil
		}, "due_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validExam()
			tt.mutate(&a)
			fields := Struct(a)
			if tt.wantField == "" {
				if fields != nil {
					t.Fatalf("unexpected errors: %v", fields)
				}
				return
			}
			if _, ok := fields[tt.wantField]; !ok {
				t.Fatalf("missing %q in %v", tt.wantField, fields)
			}
		})
	}
}

func TestStruct_RubricTotal(t *testing.T) {
	due := time.Now().Add(time.Hour)
	a := model.Assessment{
		ID:         uuid.New(),
		Kind:       model.AssessmentKindAssignment,
		Type:       model.QuestionTypeTheory,
		TotalMarks: 20,
		DueDate:    &due,
		Theory: []model.TheoryQuestion{{
			ID:     uuid.New(),
			Prompt: "Discuss",
			Marks:  15,
			Rubric: []model.RubricItem{{Description: "a", Marks: 5}, {Description: "b", Marks: 5}, {Description: "c", Marks: 10}},
		}},
	}

	fields := Struct(a)
	msg, ok := fields["theory_questions[0].marks"]
	if !ok {
		t.Fatalf("missing rubric error in %v", fields)
	}
	if msg != "marks must equal the rubric total" {
		t.Fatalf("message = %q", msg)
	}

	a.Theory[0].SetRubric(a.Theory[0].Rubric)
	if fields := Struct(a); fields != nil {
		t.Fatalf("consistent rubric rejected: %v", fields)
	}
}
