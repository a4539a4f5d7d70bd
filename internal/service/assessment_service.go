package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// OrderCache remembers the display order of an attempt across reopenings.
type OrderCache interface {
	LoadOrStoreOrder(ctx context.Context, assessmentID uuid.UUID, studentID string, attempt int, order []int) ([]int, error)
}

// DraftReader returns the last saved draft of an attempt, if any.
type DraftReader interface {
	LoadDraft(ctx context.Context, assessmentID uuid.UUID, studentID string, attempt int) (*model.Draft, bool, error)
}

// RetakeRecorder is told about every retake decision.
type RetakeRecorder interface {
	RetakeDecided(d engine.Decision)
}

// Deps wires an AssessmentService. Store, Grades and Policy are required.
type Deps struct {
	Store  engine.Store
	Grades engine.GradeRecorder
	Policy engine.GradingPolicy

	Orders        OrderCache
	Journal       engine.Journal
	Drafts        []DraftReader // asked in order, first hit wins
	Observer      engine.Observer
	Retakes       RetakeRecorder
	Clock         engine.Clock
	Rand          *rand.Rand
	SubmitTimeout time.Duration
}

// AssessmentService opens sessions and records manual grades.
type AssessmentService struct {
	store         engine.Store
	grades        engine.GradeRecorder
	policy        engine.GradingPolicy
	orders        OrderCache
	journal       engine.Journal
	drafts        []DraftReader
	observer      engine.Observer
	retakes       RetakeRecorder
	clock         engine.Clock
	rng           *rand.Rand
	submitTimeout time.Duration
	log           zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(d Deps, log zerolog.Logger) *AssessmentService {
	clk := d.Clock
	if clk == nil {
		clk = engine.SystemClock{}
	}
	return &AssessmentService{
		store:         d.Store,
		grades:        d.Grades,
		policy:        d.Policy,
		orders:        d.Orders,
		journal:       d.Journal,
		drafts:        d.Drafts,
		observer:      d.Observer,
		retakes:       d.Retakes,
		clock:         clk,
		rng:           d.Rand,
		submitTimeout: d.SubmitTimeout,
		log:           log.With().Str("component", "assessment_service").Logger(),
	}
}

// OpenOptions carries per-session hooks supplied by the hosting UI.
type OpenOptions struct {
	OnTick func(remaining time.Duration)
}

// Open checks that the student may sit the assessment now and returns a
// session for the next attempt. An attempt that was left open resumes with
// its saved display order and answers. The caller starts it with
// Session.Start.
func (s *AssessmentService) Open(ctx context.Context, assessmentID uuid.UUID, studentID string, opts OpenOptions) (*engine.Session, error) {
	const op = "service.Open"

	a, err := s.loadPublished(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if !a.Window(s.clock.Now()) {
		return nil, apperr.Policy(op, "assessment is not open at this time")
	}

	d, err := s.decide(ctx, a, studentID)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		s.log.Info().
			Str("assessment_id", a.ID.String()).
			Str("student_id", studentID).
			Str("reason", d.Reason).
			Msg("Attempt denied")
		return nil, apperr.Policy(op, d.Reason)
	}

	draft := s.draft(ctx, a.ID, studentID, d.NextAttemptNumber)
	cfg := engine.Config{
		Assessment:    a,
		StudentID:     studentID,
		AttemptNumber: d.NextAttemptNumber,
		Store:         s.store,
		Clock:         s.clock,
		Rand:          s.rng,
		Order:         s.order(ctx, a, studentID, d.NextAttemptNumber, draft),
		Journal:       s.journal,
		Observer:      s.observer,
		OnTick:        opts.OnTick,
		SubmitTimeout: s.submitTimeout,
		Log:           s.log,
	}
	if draft != nil {
		cfg.Answers = draft.Answers
	}
	return engine.NewSession(cfg)
}

// Eligibility reports whether the student may start another attempt, without
// checking the schedule.
func (s *AssessmentService) Eligibility(ctx context.Context, assessmentID uuid.UUID, studentID string) (engine.Decision, error) {
	a, err := s.loadPublished(ctx, assessmentID)
	if err != nil {
		return engine.Decision{}, err
	}
	return s.decide(ctx, a, studentID)
}

// RecordGrade writes a human grade onto a pending attempt.
func (s *AssessmentService) RecordGrade(ctx context.Context, attemptID uuid.UUID, grade int) (*model.Attempt, error) {
	attempt, err := s.grades.LoadAttempt(ctx, attemptID)
	if err != nil {
		return nil, storeErr("service.RecordGrade", err)
	}
	a, err := s.store.LoadAssessment(ctx, attempt.AssessmentID)
	if err != nil {
		return nil, storeErr("service.RecordGrade", err)
	}
	if err := engine.ApplyManualGrade(attempt, grade, a.TotalMarks); err != nil {
		return nil, err
	}
	if err := s.grades.SetGrade(ctx, attemptID, grade); err != nil {
		return nil, storeErr("service.RecordGrade", err)
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("grade", grade).
		Msg("Grade recorded")
	return attempt, nil
}

// loadPublished loads an assessment and rejects one whose content is invalid.
func (s *AssessmentService) loadPublished(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	const op = "service.LoadAssessment"
	a, err := s.store.LoadAssessment(ctx, id)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if fields := validator.Struct(*a); fields != nil {
		return nil, apperr.Validation(op, fields)
	}
	if a.Type == model.QuestionTypeTheory {
		if err := engine.ValidateTheorySet(ctx, a.Theory, s.policy); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (s *AssessmentService) decide(ctx context.Context, a *model.Assessment, studentID string) (engine.Decision, error) {
	prior, err := s.store.LoadAttempts(ctx, studentID, a.ID)
	if err != nil {
		return engine.Decision{}, storeErr("service.LoadAttempts", err)
	}

	var d engine.Decision
	switch {
	case len(prior) == 0:
		d = engine.Decision{Allowed: true, NextAttemptNumber: 1, Reason: engine.ReasonFirstAttempt}
	case !a.IsExam():
		d = engine.Decision{NextAttemptNumber: len(prior) + 1, Reason: engine.ReasonAlreadyDone}
	case a.RetakePolicy == nil:
		d = engine.Decision{NextAttemptNumber: len(prior) + 1, Reason: engine.ReasonNoRetakePolicy}
	default:
		d = engine.CanRetake(prior, *a.RetakePolicy, a.TotalMarks)
	}

	if s.retakes != nil {
		s.retakes.RetakeDecided(d)
	}
	return d, nil
}

// draft returns the first draft found for the attempt, or nil.
func (s *AssessmentService) draft(ctx context.Context, assessmentID uuid.UUID, studentID string, attempt int) *model.Draft {
	for _, r := range s.drafts {
		d, ok, err := r.LoadDraft(ctx, assessmentID, studentID, attempt)
		if err != nil {
			s.log.Warn().Err(err).Str("assessment_id", assessmentID.String()).Msg("Draft lookup failed")
			continue
		}
		if ok {
			return d
		}
	}
	return nil
}

// order returns the display order stored for this attempt, storing one first
// if none exists: the draft's order when there is a draft, otherwise a fresh
// shuffle. A nil result lets the session pick its own.
func (s *AssessmentService) order(ctx context.Context, a *model.Assessment, studentID string, attempt int, draft *model.Draft) []int {
	if !a.ShouldShuffle() {
		return nil
	}
	var candidate []int
	if draft != nil && len(draft.Order) > 0 {
		candidate = draft.Order
	}
	if s.orders == nil {
		return candidate
	}
	if candidate == nil {
		candidate = engine.OrderOf(engine.Shuffle(a.Objective, true, s.rng))
	}
	order, err := s.orders.LoadOrStoreOrder(ctx, a.ID, studentID, attempt, candidate)
	if err != nil {
		s.log.Warn().Err(err).Str("assessment_id", a.ID.String()).Msg("Order cache unavailable")
		return candidate
	}
	return order
}

// storeErr keeps taxonomy errors and treats anything else as transient.
func storeErr(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.New(apperr.CodeTransient, op, err)
}
