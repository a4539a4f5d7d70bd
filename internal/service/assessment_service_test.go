package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/engine/enginetest"
	"github.com/stemsi/exstem-engine/internal/model"
)

var now = time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)

type memoryOrders struct {
	mu     sync.Mutex
	orders map[string][]int
	err    error
}

func (m *memoryOrders) LoadOrStoreOrder(_ context.Context, id uuid.UUID, student string, attempt int, order []int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.orders == nil {
		m.orders = map[string][]int{}
	}
	k := fmt.Sprintf("%s/%s/%d", id, student, attempt)
	if existing, ok := m.orders[k]; ok {
		return existing, nil
	}
	m.orders[k] = order
	return order, nil
}

type memoryJournal struct {
	mu     sync.Mutex
	drafts map[string]model.Draft
}

func journalKey(id uuid.UUID, student string, attempt int) string {
	return fmt.Sprintf("%s/%s/%d", id, student, attempt)
}

func (j *memoryJournal) SaveDraft(_ context.Context, d model.Draft) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.drafts == nil {
		j.drafts = map[string]model.Draft{}
	}
	j.drafts[journalKey(d.AssessmentID, d.StudentID, d.AttemptNumber)] = d
	return nil
}

func (j *memoryJournal) ClearDraft(_ context.Context, id uuid.UUID, student string, attempt int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.drafts, journalKey(id, student, attempt))
	return nil
}

func (j *memoryJournal) LoadDraft(_ context.Context, id uuid.UUID, student string, attempt int) (*model.Draft, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	d, ok := j.drafts[journalKey(id, student, attempt)]
	if !ok {
		return nil, false, nil
	}
	return &d, true, nil
}

type brokenReader struct{}

func (brokenReader) LoadDraft(context.Context, uuid.UUID, string, int) (*model.Draft, bool, error) {
	return nil, false, errors.New("redis down")
}

type retakeLog struct{ decisions []engine.Decision }

func (r *retakeLog) RetakeDecided(d engine.Decision) { r.decisions = append(r.decisions, d) }

func newService(store *enginetest.MemoryStore, mod func(*Deps)) *AssessmentService {
	d := Deps{
		Store:  store,
		Grades: store,
		Policy: store,
		Clock:  enginetest.NewFakeClock(now),
		Rand:   rand.New(rand.NewPCG(11, 13)),
	}
	if mod != nil {
		mod(&d)
	}
	return NewAssessmentService(d, zerolog.Nop())
}

func examWithRetakes(max, passing int) model.Assessment {
	a := enginetest.ObjectiveExam(100, 0, 1, 2, 3)
	a.RetakePolicy = &model.RetakePolicy{Allowed: true, MaxAttempts: max, PassingGradePercentage: passing}
	return a
}

func TestOpen_RetakeGate(t *testing.T) {
	tests := []struct {
		name       string
		grades     []int
		wantErr    bool
		wantNumber int
	}{
		{"first attempt", nil, false, 1},
		{"failed once", []int{45}, false, 2},
		{"passed", []int{60}, true, 0},
		{"limit reached", []int{10, 20}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := enginetest.NewMemoryStore()
			a := examWithRetakes(2, 50)
			store.PutAssessment(a)
			for i, g := range tt.grades {
				store.PutAttempt(enginetest.GradedAttempt(a, "s1", i+1, g))
			}
			log := &retakeLog{}
			svc := newService(store, func(d *Deps) { d.Retakes = log })

			sess, err := svc.Open(context.Background(), a.ID, "s1", OpenOptions{})
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrPolicyViolation) {
					t.Fatalf("err = %v, want policy violation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if sess.AttemptNumber() != tt.wantNumber {
				t.Fatalf("attempt number = %d, want %d", sess.AttemptNumber(), tt.wantNumber)
			}
			if len(log.decisions) != 1 {
				t.Fatalf("decisions recorded = %d", len(log.decisions))
			}
		})
	}
}

func TestOpen_AssignmentAllowsOneAttempt(t *testing.T) {
	store := enginetest.NewMemoryStore()
	a := enginetest.TheoryAssignment(now.Add(48*time.Hour), 10)
	store.PutAssessment(a)
	svc := newService(store, nil)
	ctx := context.Background()

	sess, err := svc.Open(ctx, a.ID, "s1", OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := sess.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, err = svc.Open(ctx, a.ID, "s1", OpenOptions{})
	if !errors.Is(err, apperr.ErrPolicyViolation) {
		t.Fatalf("second open err = %v", err)
	}

	d, err := svc.Eligibility(ctx, a.ID, "s1")
	if err != nil || d.Allowed || d.Reason != engine.ReasonAlreadyDone {
		t.Fatalf("eligibility = %+v, %v", d, err)
	}
}

func TestOpen_Window(t *testing.T) {
	store := enginetest.NewMemoryStore()

	late := enginetest.TheoryAssignment(now.Add(-time.Minute), 5)
	store.PutAssessment(late)

	start := now.Add(time.Hour)
	end := start.Add(time.Hour)
	early := enginetest.ObjectiveExam(10, 0)
	early.StartTime, early.EndTime = &start, &end
	store.PutAssessment(early)

	svc := newService(store, nil)
	for _, id := range []uuid.UUID{late.ID, early.ID} {
		if _, err := svc.Open(context.Background(), id, "s1", OpenOptions{}); !errors.Is(err, apperr.ErrPolicyViolation) {
			t.Errorf("assessment %s: err = %v, want policy violation", id, err)
		}
	}
}

func TestOpen_RejectsInvalidAssessments(t *testing.T) {
	store := enginetest.NewMemoryStore()

	broken := enginetest.ObjectiveExam(10, 0)
	broken.Objective[0].CorrectOption = 9
	store.PutAssessment(broken)

	rubric := enginetest.TheoryAssignment(now.Add(time.Hour), 10)
	store.PutAssessment(rubric)
	store.PutRubric(rubric.Theory[0].ID, []model.RubricItem{{Description: "x", Marks: 4}})

	svc := newService(store, nil)
	ctx := context.Background()
	if _, err := svc.Open(ctx, broken.ID, "s1", OpenOptions{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("invalid correct option: err = %v", err)
	}
	if _, err := svc.Open(ctx, rubric.ID, "s1", OpenOptions{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("rubric mismatch: err = %v", err)
	}
	if _, err := svc.Open(ctx, uuid.New(), "s1", OpenOptions{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown assessment: err = %v", err)
	}

	store.LoadErr = errors.New("connection refused")
	_, err := svc.Open(ctx, broken.ID, "s1", OpenOptions{})
	if !errors.Is(err, apperr.ErrTransient) {
		t.Errorf("store down: err = %v, want transient", err)
	}
}

func TestOpen_ReusesCachedOrder(t *testing.T) {
	store := enginetest.NewMemoryStore()
	a := enginetest.ObjectiveExam(100, 0, 1, 2, 3, 0, 1)
	a.ShuffleQuestions = true
	store.PutAssessment(a)
	orders := &memoryOrders{}
	svc := newService(store, func(d *Deps) { d.Orders = orders })
	ctx := context.Background()

	first, err := svc.Open(ctx, a.ID, "s1", OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Open(ctx, a.ID, "s1", OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}

	o1, o2 := first.Order(), second.Order()
	for i := range o1 {
		if o1[i] != o2[i] {
			t.Fatalf("reopened order %v differs from %v", o2, o1)
		}
	}

	orders.err = errors.New("redis down")
	if _, err := svc.Open(ctx, a.ID, "s2", OpenOptions{}); err != nil {
		t.Fatalf("Open with cache down: %v", err)
	}
}

func TestOpen_ResumesDraft(t *testing.T) {
	store := enginetest.NewMemoryStore()
	a := enginetest.ObjectiveExam(100, 0, 1, 2, 3, 0, 1)
	a.ShuffleQuestions = true
	store.PutAssessment(a)
	journal := &memoryJournal{}
	ctx := context.Background()

	svc := newService(store, func(d *Deps) {
		d.Orders = &memoryOrders{}
		d.Journal = journal
		d.Drafts = []DraftReader{journal}
	})
	first, err := svc.Open(ctx, a.ID, "s1", OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.SetObjectiveAnswer(ctx, 0, 2); err != nil {
		t.Fatal(err)
	}
	if err := first.SetObjectiveAnswer(ctx, 3, 1); err != nil {
		t.Fatal(err)
	}
	want, _ := first.Answers().Objective()

	// The order cache is gone and the shuffle source differs, so only the
	// draft can bring the arrangement back.
	reopened := newService(store, func(d *Deps) {
		d.Rand = rand.New(rand.NewPCG(97, 89))
		d.Orders = &memoryOrders{}
		d.Journal = journal
		d.Drafts = []DraftReader{brokenReader{}, journal}
	})
	second, err := reopened.Open(ctx, a.ID, "s1", OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}

	o1, o2 := first.Order(), second.Order()
	if len(o1) != len(o2) {
		t.Fatalf("reopened order %v, want %v", o2, o1)
	}
	for i := range o1 {
		if o1[i] != o2[i] {
			t.Fatalf("reopened order %v, want %v", o2, o1)
		}
	}
	got, ok := second.Answers().Objective()
	if !ok || len(got) != len(want) {
		t.Fatalf("restored answers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("restored answers = %v, want %v", got, want)
		}
	}

	if _, err := second.Submit(ctx); err != nil {
		t.Fatal(err)
	}
	third, err := svc.Open(ctx, a.ID, "s2", OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if blank, _ := third.Answers().Objective(); blank[0] != model.Unanswered {
		t.Fatalf("another student's session starts with %v", blank)
	}
}

func TestRecordGrade(t *testing.T) {
	store := enginetest.NewMemoryStore()
	a := enginetest.TheoryAssignment(now.Add(time.Hour), 6, 4)
	store.PutAssessment(a)
	svc := newService(store, nil)
	ctx := context.Background()

	sess, err := svc.Open(ctx, a.ID, "s1", OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	attempt, err := sess.Submit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !attempt.Pending() {
		t.Fatal("theory attempt graded automatically")
	}

	if _, err := svc.RecordGrade(ctx, attempt.ID, 11); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("grade above total: err = %v", err)
	}
	graded, err := svc.RecordGrade(ctx, attempt.ID, 9)
	if err != nil {
		t.Fatalf("RecordGrade: %v", err)
	}
	if *graded.Grade != 9 {
		t.Fatalf("grade = %d", *graded.Grade)
	}
	if _, err := svc.RecordGrade(ctx, attempt.ID, 3); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("regrade: err = %v", err)
	}
	if _, err := svc.RecordGrade(ctx, uuid.New(), 3); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown attempt: err = %v", err)
	}
}
