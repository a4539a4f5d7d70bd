package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Store is the question/answer store the engine consumes.
//
// LoadAssessment fails with apperr.ErrNotFound or apperr.ErrTransient.
// LoadAttempts returns attempts ordered by attempt number.
// SaveAttempt fails with apperr.ErrConflict when an attempt with the same
// (student, assessment, attempt number) exists, apperr.ErrTransient otherwise.
type Store interface {
	LoadAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
	LoadAttempts(ctx context.Context, studentID string, assessmentID uuid.UUID) ([]model.Attempt, error)
	SaveAttempt(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error)
}

// AttemptSaver is the subset of Store a session needs to persist its result.
type AttemptSaver interface {
	SaveAttempt(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error)
}

// GradeRecorder writes a manual grade onto an existing attempt.
type GradeRecorder interface {
	LoadAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	SetGrade(ctx context.Context, attemptID uuid.UUID, grade int) error
}

// GradingPolicy resolves the rubric for a theory question. ok is false when
// the question has no rubric.
type GradingPolicy interface {
	RubricFor(ctx context.Context, questionID uuid.UUID) (items []model.RubricItem, ok bool, err error)
}

// Journal receives answer snapshots after every mutation.
type Journal interface {
	SaveDraft(ctx context.Context, draft model.Draft) error
	ClearDraft(ctx context.Context, assessmentID uuid.UUID, studentID string, attemptNumber int) error
}

// Observer is notified of session lifecycle events.
type Observer interface {
	SessionOpened(a *model.Assessment, studentID string, attemptNumber int)
	SessionSubmitted(a *model.Assessment, attempt *model.Attempt)
	SubmitFailed(a *model.Assessment, attempt *model.Attempt, err error)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(*model.Assessment, string, int)          {}
func (nopObserver) SessionSubmitted(*model.Assessment, *model.Attempt)    {}
func (nopObserver) SubmitFailed(*model.Assessment, *model.Attempt, error) {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) SessionOpened(a *model.Assessment, studentID string, n int) {
	for _, ob := range o {
		ob.SessionOpened(a, studentID, n)
	}
}

func (o Observers) SessionSubmitted(a *model.Assessment, attempt *model.Attempt) {
	for _, ob := range o {
		ob.SessionSubmitted(a, attempt)
	}
}

func (o Observers) SubmitFailed(a *model.Assessment, attempt *model.Attempt, err error) {
	for _, ob := range o {
		ob.SubmitFailed(a, attempt, err)
	}
}
