package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubmitTrigger records which path drove a session to submission.
type SubmitTrigger string

const (
	SubmitTriggerManual   SubmitTrigger = "MANUAL"
	SubmitTriggerExpiry   SubmitTrigger = "EXPIRY"
	SubmitTriggerClose    SubmitTrigger = "CLOSE"
	SubmitTriggerTeardown SubmitTrigger = "TEARDOWN"
)

// TheoryAnswer is a student's free-text answer to one theory question.
type TheoryAnswer struct {
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
	Image      string    `json:"image,omitempty"`
}

// AnswerSet holds either objective or theory answers, aligned to the
// canonical question order. Exactly one variant is populated.
type AnswerSet struct {
	kind      QuestionType
	objective []int
	theory    []TheoryAnswer
}

// ObjectiveAnswers builds an objective answer set.
func ObjectiveAnswers(options []int) AnswerSet {
	return AnswerSet{kind: QuestionTypeObjective, objective: append([]int{}, options...)}
}

// TheoryAnswers builds a theory answer set.
func TheoryAnswers(answers []TheoryAnswer) AnswerSet {
	return AnswerSet{kind: QuestionTypeTheory, theory: append([]TheoryAnswer{}, answers...)}
}

// BlankAnswers builds the initial answer set for an assessment: every
// objective entry is Unanswered and every theory entry is empty text.
func BlankAnswers(a *Assessment) AnswerSet {
	switch a.Type {
	case QuestionTypeObjective:
		opts := make([]int, len(a.Objective))
		for i := range opts {
			opts[i] = Unanswered
		}
		return AnswerSet{kind: QuestionTypeObjective, objective: opts}
	case QuestionTypeTheory:
		ans := make([]TheoryAnswer, len(a.Theory))
		for i, q := range a.Theory {
			ans[i] = TheoryAnswer{QuestionID: q.ID}
		}
		return AnswerSet{kind: QuestionTypeTheory, theory: ans}
	}
	return AnswerSet{}
}

// Kind returns the populated variant.
func (s AnswerSet) Kind() QuestionType { return s.kind }

// Objective returns a copy of the objective answers.
func (s AnswerSet) Objective() ([]int, bool) {
	if s.kind != QuestionTypeObjective {
		return nil, false
	}
	return append([]int{}, s.objective...), true
}

// Theory returns a copy of the theory answers.
func (s AnswerSet) Theory() ([]TheoryAnswer, bool) {
	if s.kind != QuestionTypeTheory {
		return nil, false
	}
	return append([]TheoryAnswer{}, s.theory...), true
}

// Len returns the number of answers in the populated variant.
func (s AnswerSet) Len() int {
	switch s.kind {
	case QuestionTypeObjective:
		return len(s.objective)
	case QuestionTypeTheory:
		return len(s.theory)
	}
	return 0
}

// Clone returns a deep copy.
func (s AnswerSet) Clone() AnswerSet {
	switch s.kind {
	case QuestionTypeObjective:
		return ObjectiveAnswers(s.objective)
	case QuestionTypeTheory:
		return TheoryAnswers(s.theory)
	}
	return AnswerSet{}
}

// SetObjective writes option at canonical index i.
func (s *AnswerSet) SetObjective(i, option int) {
	s.objective[i] = option
}

// SetTheory writes a theory answer at canonical index i, keeping its question ID.
func (s *AnswerSet) SetTheory(i int, text, image string) {
	s.theory[i].Text = text
	s.theory[i].Image = image
}

type answerSetJSON struct {
	Kind      QuestionType   `json:"kind"`
	Objective []int          `json:"objective,omitempty"`
	Theory    []TheoryAnswer `json:"theory,omitempty"`
}

// MarshalJSON encodes the variant tag alongside its answers.
func (s AnswerSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(answerSetJSON{Kind: s.kind, Objective: s.objective, Theory: s.theory})
}

// UnmarshalJSON decodes a tagged answer set.
func (s *AnswerSet) UnmarshalJSON(data []byte) error {
	var raw answerSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case QuestionTypeObjective:
		*s = ObjectiveAnswers(raw.Objective)
	case QuestionTypeTheory:
		*s = TheoryAnswers(raw.Theory)
	case "":
		*s = AnswerSet{}
	default:
		return fmt.Errorf("unknown answer set kind %q", raw.Kind)
	}
	return nil
}

// Attempt is one student's submitted answer set for an assessment.
// Only Grade may change after creation.
type Attempt struct {
	ID            uuid.UUID     `json:"id"`
	AssessmentID  uuid.UUID     `json:"assessment_id"`
	StudentID     string        `json:"student_id"`
	StartedAt     time.Time     `json:"started_at"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	AttemptNumber int           `json:"attempt_number"`
	Answers       AnswerSet     `json:"answers"`
	Grade         *int          `json:"grade,omitempty"`
	Trigger       SubmitTrigger `json:"trigger"`
}

// Pending reports whether the attempt still awaits a grade.
func (a *Attempt) Pending() bool {
	return a.Grade == nil
}

// Clone returns a deep copy.
func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Answers = a.Answers.Clone()
	if a.Grade != nil {
		g := *a.Grade
		cp.Grade = &g
	}
	return &cp
}
