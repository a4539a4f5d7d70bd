package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/model"
)

// MemoryStore is an in-memory engine.Store, engine.GradeRecorder and
// engine.GradingPolicy.
type MemoryStore struct {
	mu          sync.Mutex
	assessments map[uuid.UUID]model.Assessment
	attempts    map[uuid.UUID]model.Attempt
	rubrics     map[uuid.UUID][]model.RubricItem

	// SaveErrs are returned, in order, by the next SaveAttempt calls.
	SaveErrs []error
	// CommitErrs are returned, in order, by the next SaveAttempt calls that
	// did store the attempt, as when the acknowledgement is lost.
	CommitErrs []error
	// LoadErr is returned by LoadAssessment when set.
	LoadErr error

	saveCalls int
	saved     chan *model.Attempt
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: map[uuid.UUID]model.Assessment{},
		attempts:    map[uuid.UUID]model.Attempt{},
		rubrics:     map[uuid.UUID][]model.RubricItem{},
		saved:       make(chan *model.Attempt, 64),
	}
}

// PutAssessment stores a published assessment.
func (s *MemoryStore) PutAssessment(a model.Assessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.ID] = a
}

// PutAttempt stores a prior attempt directly.
func (s *MemoryStore) PutAttempt(a model.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = a
}

// PutRubric registers the rubric resolved for a question.
func (s *MemoryStore) PutRubric(questionID uuid.UUID, items []model.RubricItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rubrics[questionID] = items
}

func (s *MemoryStore) LoadAssessment(_ context.Context, id uuid.UUID) (*model.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	a, ok := s.assessments[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "memory.LoadAssessment", fmt.Errorf("assessment %s not found", id))
	}
	return &a, nil
}

func (s *MemoryStore) LoadAttempts(_ context.Context, studentID string, assessmentID uuid.UUID) ([]model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Attempt
	for _, a := range s.attempts {
		if a.StudentID == studentID && a.AssessmentID == assessmentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (s *MemoryStore) SaveAttempt(_ context.Context, a *model.Attempt) (*model.Attempt, error) {
	s.mu.Lock()
	s.saveCalls++
	if len(s.SaveErrs) > 0 {
		err := s.SaveErrs[0]
		s.SaveErrs = s.SaveErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	for _, existing := range s.attempts {
		if existing.StudentID != a.StudentID || existing.AssessmentID != a.AssessmentID ||
			existing.AttemptNumber != a.AttemptNumber {
			continue
		}
		if existing.ID != a.ID {
			s.mu.Unlock()
			return nil, apperr.New(apperr.CodeConflict, "memory.SaveAttempt", errors.New("duplicate attempt"))
		}
		s.mu.Unlock()
		s.saved <- &existing
		return &existing, nil
	}
	cp := *a
	cp.Answers = a.Answers.Clone()
	s.attempts[a.ID] = cp
	if len(s.CommitErrs) > 0 {
		err := s.CommitErrs[0]
		s.CommitErrs = s.CommitErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.saved <- &cp
	return &cp, nil
}

func (s *MemoryStore) LoadAttempt(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "memory.LoadAttempt", fmt.Errorf("attempt %s not found", id))
	}
	return &a, nil
}

func (s *MemoryStore) SetGrade(_ context.Context, id uuid.UUID, grade int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return apperr.New(apperr.CodeNotFound, "memory.SetGrade", fmt.Errorf("attempt %s not found", id))
	}
	if a.Grade != nil {
		return apperr.New(apperr.CodeConflict, "memory.SetGrade", errors.New("attempt is already graded"))
	}
	g := grade
	a.Grade = &g
	s.attempts[id] = a
	return nil
}

func (s *MemoryStore) RubricFor(_ context.Context, questionID uuid.UUID) ([]model.RubricItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.rubrics[questionID]
	return items, ok, nil
}

// SaveCalls returns how many times SaveAttempt was called.
func (s *MemoryStore) SaveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls
}

// Saved delivers every successfully saved attempt.
func (s *MemoryStore) Saved() <-chan *model.Attempt {
	return s.saved
}
