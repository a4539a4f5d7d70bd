package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBlankAnswers(t *testing.T) {
	obj := &Assessment{Type: QuestionTypeObjective, Objective: make([]ObjectiveQuestion, 3)}
	opts, ok := BlankAnswers(obj).Objective()
	if !ok || len(opts) != 3 {
		t.Fatalf("objective blank = %v, %v", opts, ok)
	}
	for _, o := range opts {
		if o != Unanswered {
			t.Fatalf("blank objective answer = %d", o)
		}
	}

	id := uuid.New()
	th := &Assessment{Type: QuestionTypeTheory, Theory: []TheoryQuestion{{ID: id}}}
	ans, ok := BlankAnswers(th).Theory()
	if !ok || len(ans) != 1 || ans[0].QuestionID != id || ans[0].Text != "" {
		t.Fatalf("theory blank = %+v, %v", ans, ok)
	}
	if _, ok := BlankAnswers(th).Objective(); ok {
		t.Fatal("theory set exposed objective answers")
	}
}

func TestAnswerSet_CloneIsDeep(t *testing.T) {
	a := ObjectiveAnswers([]int{0, 1})
	b := a.Clone()
	b.SetObjective(0, 3)

	got, _ := a.Objective()
	if got[0] != 0 {
		t.Fatal("clone shares storage with the original")
	}
}

func TestAnswerSet_JSONCarriesKind(t *testing.T) {
	in := TheoryAnswers([]TheoryAnswer{{QuestionID: uuid.New(), Text: "because"}})
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"kind":"THEORY"`) {
		t.Fatalf("encoded = %s", data)
	}

	var out AnswerSet
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	ans, ok := out.Theory()
	if !ok || ans[0].Text != "because" {
		t.Fatalf("decoded = %+v", out)
	}

	if err := json.Unmarshal([]byte(`{"kind":"ESSAY"}`), &out); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestAssessmentDuration(t *testing.T) {
	now := mustTime(t, "2026-05-01T10:00:00Z")
	due := now.Add(90 * time.Second)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		a    Assessment
		want time.Duration
	}{
		{"exam minutes", Assessment{Kind: AssessmentKindExam, DurationMinutes: 45}, 45 * time.Minute},
		{"assignment until due", Assessment{Kind: AssessmentKindAssignment, DueDate: &due}, 90 * time.Second},
		{"assignment past due", Assessment{Kind: AssessmentKindAssignment, DueDate: &past}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Duration(now); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssessmentWindow(t *testing.T) {
	now := mustTime(t, "2026-05-01T10:00:00Z")
	start, end := now.Add(-time.Hour), now.Add(time.Hour)
	later := now.Add(time.Minute)

	exam := Assessment{Kind: AssessmentKindExam, StartTime: &start, EndTime: &end}
	if !exam.Window(now) {
		t.Error("exam inside window rejected")
	}
	if exam.Window(end.Add(time.Second)) {
		t.Error("exam after end accepted")
	}
	if exam.Window(start.Add(-time.Second)) {
		t.Error("exam before start accepted")
	}

	asg := Assessment{Kind: AssessmentKindAssignment, DueDate: &later}
	if !asg.Window(now) || asg.Window(later) {
		t.Error("assignment window must close at the due date")
	}
}

func TestShouldShuffle(t *testing.T) {
	a := Assessment{Kind: AssessmentKindExam, Type: QuestionTypeObjective, ShuffleQuestions: true}
	if !a.ShouldShuffle() {
		t.Error("objective exam with shuffle enabled not shuffled")
	}
	a.Type = QuestionTypeTheory
	if a.ShouldShuffle() {
		t.Error("theory exam shuffled")
	}
	a.Type, a.Kind = QuestionTypeObjective, AssessmentKindAssignment
	if a.ShouldShuffle() {
		t.Error("assignment shuffled")
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}
